package app

import (
	"math/rand"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
)

// optionCount is the number of provinces offered per question.
const optionCount = 4

// maxDistractorDraws bounds the rejection-sampling loop so a corrupted
// catalogue cannot spin forever; the validated catalogue makes hitting the
// bound effectively impossible.
const maxDistractorDraws = 10000

// mapShapeSpace is the range of procedural signboard-shape seeds handed to clients.
const mapShapeSpace = 1000

// Generator draws questions from the district catalogue.
type Generator struct {
	catalogue domain.Catalogue

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator validates the catalogue and returns a generator seeded from the
// current time. A catalogue with fewer than four distinct provinces is a fatal
// startup error, never a runtime one.
func NewGenerator(catalogue domain.Catalogue) (*Generator, error) {
	return NewGeneratorWithRand(catalogue, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewGeneratorWithRand is test-only for deterministic draws.
func NewGeneratorWithRand(catalogue domain.Catalogue, rnd *rand.Rand) (*Generator, error) {
	if err := catalogue.Validate(); err != nil {
		return nil, err
	}
	return &Generator{catalogue: catalogue, rnd: rnd}, nil
}

// Generate picks one entry uniformly as the correct pair, rejection-samples
// three distractor provinces, and shuffles the four options uniformly.
func (g *Generator) Generate() domain.Question {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := g.catalogue[g.rnd.Intn(len(g.catalogue))]

	seen := map[string]struct{}{target.Province: {}}
	options := []string{target.Province}
	for draws := 0; len(options) < optionCount && draws < maxDistractorDraws; draws++ {
		candidate := g.catalogue[g.rnd.Intn(len(g.catalogue))].Province
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		options = append(options, candidate)
	}
	// Bound exhausted: sweep the catalogue for the remaining distinct
	// provinces, which validation guarantees exist.
	for _, entry := range g.catalogue {
		if len(options) == optionCount {
			break
		}
		if _, ok := seen[entry.Province]; ok {
			continue
		}
		seen[entry.Province] = struct{}{}
		options = append(options, entry.Province)
	}

	g.rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return domain.Question{
		District:      target.District,
		Province:      target.Province,
		Options:       options,
		MapShapeIndex: g.rnd.Intn(mapShapeSpace),
	}
}
