package sequence

// MsgKind selects the message template used for an event code.
type MsgKind int

const (
	KindPlain MsgKind = iota
	KindScrapCharge
	KindHotMetalCharge
	KindMaterialCharge
	KindWireFeed
	KindLadleArrival
	KindLadleDeparture
	KindTapping
	KindTemperature
	KindHydrogen
	KindOxygen
	KindCarbon
	KindGas
	KindPower
	KindGearChange
	KindTundishCharge
	KindLadleCharge
	KindTundishTemp
	KindLadleMove
	KindTailOut
)

// EventDef describes one event code of the catalog.
type EventDef struct {
	Code string
	Name string
	Kind MsgKind
}

// catalog maps stage name to its event code definitions. Graph
// definitions may reference only codes listed here; the loader rejects
// anything else at startup.
var catalog = map[string][]EventDef{
	"BOF": {
		{"G12001", "ladle arrival", KindLadleArrival},
		{"G12002", "ladle departure", KindLadleDeparture},
		{"G12003", "treatment start", KindPlain},
		{"G12004", "treatment end", KindPlain},
		{"G12005", "heat start", KindPlain},
		{"G12006", "heat end", KindPlain},
		{"G12007", "heat canceled", KindPlain},
		{"G12008", "material charge", KindMaterialCharge},
		{"G12009", "steel sampling", KindPlain},
		{"G12010", "steel analysis received", KindPlain},
		{"G12011", "slag sampling", KindPlain},
		{"G12012", "slag analysis received", KindPlain},
		{"G12013", "steel temperature measured", KindTemperature},
		{"G12014", "hydrogen measured", KindHydrogen},
		{"G12015", "oxygen measured", KindOxygen},
		{"G12016", "carbon measured", KindCarbon},
		{"G12017", "scrap charge", KindScrapCharge},
		{"G12018", "hot metal charge", KindHotMetalCharge},
		{"G12019", "alloy batch order issued", KindPlain},
		{"G12020", "flux batch order issued", KindPlain},
		{"G12021", "oxygen lance blow start", KindPlain},
		{"G12022", "oxygen lance blow end", KindGas},
		{"G12023", "deslagging start", KindPlain},
		{"G12024", "deslagging end", KindPlain},
		{"G12025", "tapping start", KindPlain},
		{"G12026", "tapping end", KindTapping},
		{"G12027", "ladle bottom stir start", KindPlain},
		{"G12028", "ladle bottom stir end", KindGas},
	},
	"LF": {
		{"G13001", "ladle arrival", KindLadleArrival},
		{"G13002", "ladle departure", KindLadleDeparture},
		{"G13003", "treatment start", KindPlain},
		{"G13004", "treatment end", KindPlain},
		{"G13005", "heat start", KindPlain},
		{"G13006", "heat end", KindPlain},
		{"G13007", "heat sent to rework", KindPlain},
		{"G13008", "heat canceled", KindPlain},
		{"G13009", "material charge", KindMaterialCharge},
		{"G13010", "wire feeding", KindWireFeed},
		{"G13011", "steel sampling", KindPlain},
		{"G13012", "steel analysis received", KindPlain},
		{"G13013", "slag sampling", KindPlain},
		{"G13014", "slag analysis received", KindPlain},
		{"G13015", "steel temperature measured", KindTemperature},
		{"G13016", "hydrogen measured", KindHydrogen},
		{"G13017", "oxygen measured", KindOxygen},
		{"G13018", "soft bubbling start", KindPlain},
		{"G13019", "soft bubbling end", KindGas},
		{"G13020", "transformer tap change", KindGearChange},
		{"G13021", "current tap change", KindGearChange},
		{"G13022", "power on", KindPlain},
		{"G13023", "power off", KindPower},
		{"G13024", "argon stirring start", KindPlain},
		{"G13025", "argon stirring end", KindGas},
	},
	"CCM": {
		{"G16001", "tundish charge", KindTundishCharge},
		{"G16002", "tundish temperature measured", KindTundishTemp},
		{"G16006", "ladle charge", KindLadleCharge},
		{"G16007", "ladle temperature measured", KindTundishTemp},
		{"G16008", "ladle at receiving position", KindLadleMove},
		{"G16009", "ladle at casting position", KindLadleMove},
		{"G16010", "cast start", KindLadleMove},
		{"G16011", "cast stop", KindLadleMove},
		{"G16012", "ladle lifted away", KindPlain},
		{"G16013", "slab cutting complete", KindPlain},
		{"G16014", "slab marking complete", KindPlain},
		{"G16015", "cast canceled", KindPlain},
		{"G16016", "strand cast start", KindPlain},
		{"G16017", "strand cast stop", KindPlain},
		{"G16018", "slab produced", KindPlain},
		{"G16019", "tail-out start", KindTailOut},
		{"G16020", "tail-out end", KindPlain},
		{"G16021", "cutting start", KindPlain},
		{"G16022", "cutting complete", KindPlain},
	},
}

// Catalog returns the event definitions for a stage name, or nil.
func Catalog(stage string) []EventDef {
	return catalog[stage]
}

// lookupDef returns the definition of a code within a stage catalog.
func lookupDef(stage, code string) (EventDef, bool) {
	for _, def := range catalog[stage] {
		if def.Code == code {
			return def, true
		}
	}
	return EventDef{}, false
}
