package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const ingestPrompt = `Convierte el siguiente listado de inventario de una agencia de autos a JSON.
Responde solo con un objeto: {"vehicles": [{"make": "", "model": "", "year": 0, "trim": "", "price": 0, "mileage": 0}]}
Los precios van en pesos sin símbolos ni separadores. Omite renglones que no describan un vehículo.

LISTADO:
`

// IngestResult is the outcome of parsing a pasted listing. When the model
// answer cannot be parsed Cars is empty and Raw carries the model text.
type IngestResult struct {
	Cars     []Car    `json:"cars"`
	Rejected []string `json:"rejected,omitempty"`
	Raw      string   `json:"raw,omitempty"`
}

// Ingestor turns free-text listings into stored cars.
type Ingestor struct {
	model  llm.Client
	store  Store
	logger *logging.Logger
}

func NewIngestor(model llm.Client, store Store, logger *logging.Logger) *Ingestor {
	if model == nil || store == nil {
		panic("inventory: ingestor needs a model client and a store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{model: model, store: store, logger: logger}
}

type parsedListing struct {
	Vehicles []Car `json:"vehicles"`
}

// Ingest parses text with the model and stores every valid car as available.
func (i *Ingestor) Ingest(ctx context.Context, text string) (IngestResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return IngestResult{}, ErrInvalidCar
	}
	answer, err := llm.Generate(ctx, i.model, "", ingestPrompt+text, true)
	if err != nil {
		return IngestResult{}, err
	}

	var parsed parsedListing
	if err := llm.DecodeJSONObject(answer, &parsed); err != nil {
		if errors.Is(err, llm.ErrMalformedModelOutput) {
			i.logger.Warn("inventory: model listing was not JSON, passing raw text through", "error", err)
			return IngestResult{Raw: strings.TrimSpace(answer)}, nil
		}
		return IngestResult{}, err
	}

	var (
		valid    []Car
		rejected []string
	)
	for _, c := range parsed.Vehicles {
		c.ID = ""
		c.Available = true
		if err := c.Validate(); err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		valid = append(valid, c)
	}
	stored, err := i.store.Upsert(ctx, valid)
	if err != nil {
		return IngestResult{}, err
	}
	i.logger.Info("inventory ingested", "stored", len(stored), "rejected", len(rejected))
	return IngestResult{Cars: stored, Rejected: rejected}, nil
}
