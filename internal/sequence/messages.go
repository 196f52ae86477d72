package sequence

import (
	"math/rand"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Sample pools for message parameters.
var (
	ladleNumbers    = []string{"LP-01", "LP-02", "LP-03", "LP-04", "LP-05", "LP-06", "LP-07", "LP-08"}
	hotMetalLadles  = []string{"TB-01", "TB-02", "TB-03", "TB-04", "TB-05", "TB-06"}
	scrapBaskets    = []string{"LB-01", "LB-02", "LB-03", "LB-04", "LB-05"}
	binNumbers      = []string{"1#", "2#", "3#", "4#", "5#", "6#", "7#", "8#"}
	scrapMaterials  = []string{"heavy scrap", "light scrap", "pig iron", "shredded scrap", "return steel"}
	alloyMaterials  = []string{"ferrosilicon", "ferromanganese", "silicomanganese", "aluminum blocks", "ferrovanadium", "ferrochrome"}
	fluxMaterials   = []string{"lime", "fluorspar", "calcined dolomite", "synthetic slag"}
	wireMaterials   = []string{"CaSi wire", "aluminum wire", "titanium wire", "boron wire", "carbon wire"}
	tundishAdds     = []string{"tundish covering agent", "mold powder", "nozzle sand"}
	ladleAdditives  = []string{"deoxidizer", "recarburizer", "refining agent"}
	stirGases       = []string{"argon", "nitrogen"}
	gearPositions   = []string{"tap 1", "tap 2", "tap 3", "tap 4", "tap 5", "tap 6"}
)

// MessageGenerator renders the human-readable message of an event.
//
// Quantities are formatted with an x/text printer so numbers carry
// locale-correct group separators in demo viewers. Sampling draws from
// the caller's rng, keeping seeded generation reproducible.
type MessageGenerator struct {
	p *message.Printer
}

// NewMessageGenerator creates an English message generator.
func NewMessageGenerator() *MessageGenerator {
	return &MessageGenerator{p: message.NewPrinter(language.English)}
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// Generate renders the message for one event occurrence.
func (m *MessageGenerator) Generate(def EventDef, rng *rand.Rand) string {
	switch def.Kind {
	case KindScrapCharge:
		return m.p.Sprintf("%s: material [%s], basket [%s], weight [%.1f t]",
			def.Name, pick(rng, scrapMaterials), pick(rng, scrapBaskets), 0.5+rng.Float64()*14.5)
	case KindHotMetalCharge:
		return m.p.Sprintf("%s: hot metal ladle [%s], weight [%.1f t]",
			def.Name, pick(rng, hotMetalLadles), 80+rng.Float64()*40)
	case KindMaterialCharge:
		pool := alloyMaterials
		if rng.Intn(2) == 0 {
			pool = fluxMaterials
		}
		return m.p.Sprintf("%s: material [%s], bin [%s], weight [%.1f t]",
			def.Name, pick(rng, pool), pick(rng, binNumbers), 0.5+rng.Float64()*14.5)
	case KindWireFeed:
		return m.p.Sprintf("%s: material [%s], bin [%s], length [%d m]",
			def.Name, pick(rng, wireMaterials), pick(rng, binNumbers), 50+rng.Intn(451))
	case KindLadleArrival:
		return m.p.Sprintf("%s: steel weight [%.1f t], ladle [%s]",
			def.Name, 80+rng.Float64()*70, pick(rng, ladleNumbers))
	case KindLadleDeparture:
		return m.p.Sprintf("%s: steel weight [%.1f t], ladle [%s]",
			def.Name, 80+rng.Float64()*70, pick(rng, ladleNumbers))
	case KindTapping:
		return m.p.Sprintf("%s: steel weight [%.1f t], ladle [%s]",
			def.Name, 100+rng.Float64()*60, pick(rng, ladleNumbers))
	case KindTemperature:
		return m.p.Sprintf("%s: temperature [%d degC]", def.Name, 1550+rng.Intn(151))
	case KindHydrogen:
		return m.p.Sprintf("%s: hydrogen [%.2f ppm]", def.Name, 1+rng.Float64()*4)
	case KindOxygen:
		return m.p.Sprintf("%s: oxygen [%.1f ppm]", def.Name, 10+rng.Float64()*90)
	case KindCarbon:
		return m.p.Sprintf("%s: carbon [%.3f%%]", def.Name, 0.02+rng.Float64()*0.08)
	case KindGas:
		return m.p.Sprintf("%s: gas [%s], consumption [%d Nm3]",
			def.Name, pick(rng, stirGases), 50+rng.Intn(451))
	case KindPower:
		return m.p.Sprintf("%s: energy [%d kWh]", def.Name, 200+rng.Intn(601))
	case KindGearChange:
		return m.p.Sprintf("%s: position [%s]", def.Name, pick(rng, gearPositions))
	case KindTundishCharge:
		return m.p.Sprintf("%s: material [%s], weight [%.1f kg]",
			def.Name, pick(rng, tundishAdds), 5+rng.Float64()*45)
	case KindLadleCharge:
		return m.p.Sprintf("%s: material [%s], weight [%.1f kg]",
			def.Name, pick(rng, ladleAdditives), 5+rng.Float64()*45)
	case KindTundishTemp:
		return m.p.Sprintf("%s: temperature [%d degC]", def.Name, 1520+rng.Intn(61))
	case KindLadleMove:
		return m.p.Sprintf("%s: tundish weight [%.1f t], ladle weight [%.1f t]",
			def.Name, 15+rng.Float64()*20, 80+rng.Float64()*70)
	case KindTailOut:
		return m.p.Sprintf("%s: tundish weight [%.1f t]", def.Name, 5+rng.Float64()*10)
	default:
		return m.p.Sprintf("%s executed", def.Name)
	}
}
