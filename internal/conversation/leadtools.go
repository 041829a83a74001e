package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/guardrail"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/internal/scoring"
)

// Tool names offered to the model.
const (
	ToolScoreLead        = "score_lead"
	ToolUpdateLeadStatus = "update_lead_status"
	ToolRequestLeadInfo  = "request_lead_info"
	ToolSearchInventory  = "search_inventory"
)

// ScoreLeadTool records applicant details and re-derives the lead's score.
func ScoreLeadTool(svc *scoring.Service) Tool {
	str := func(desc string) *llm.Schema { return &llm.Schema{Type: "string", Description: desc} }
	return Tool{
		Name:        ToolScoreLead,
		Description: "Guarda los datos financieros que el cliente compartió y recalcula su puntaje de prospecto.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"monthly_income":      str("Ingreso mensual, por ejemplo \"25000\" o \"25k\"."),
				"credit_score_band":   str("Historial crediticio: excelente, bueno, regular, malo o un puntaje numérico."),
				"employer":            str("Empresa donde trabaja."),
				"job_title":           str("Puesto."),
				"time_at_job":         str("Antigüedad en el empleo, por ejemplo \"2 años\" o \"8 meses\"."),
				"vehicle_of_interest": str("Vehículo que le interesa."),
			},
		},
		Execute: func(ctx context.Context, call ToolCall) (any, error) {
			var attrs leads.ScoringAttributes
			if err := decodeArgs(call.Args, &attrs); err != nil {
				return nil, err
			}
			lead, res, err := svc.Rescore(ctx, call.LeadID, attrs)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"score":     res.Score,
				"tier":      res.Tier,
				"rationale": res.Rationale,
				"status":    lead.Status,
			}, nil
		},
	}
}

type statusArgs struct {
	Status        leads.Status `json:"status"`
	AssignedAgent string       `json:"assigned_agent"`
	SaleID        string       `json:"sale_id"`
	Amount        float64      `json:"amount"`
	LossReason    string       `json:"loss_reason"`
}

// UpdateLeadStatusTool moves the lead through the lifecycle.
func UpdateLeadStatusTool(repo leads.Repository, machine *lifecycle.Machine) Tool {
	statuses := []string{
		string(leads.StatusContacted), string(leads.StatusQualified), string(leads.StatusNegotiating),
		string(leads.StatusSold), string(leads.StatusLost),
	}
	return Tool{
		Name:        ToolUpdateLeadStatus,
		Description: "Cambia la etapa del prospecto. Usa lost con loss_reason cuando el cliente ya no está interesado.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"status":         {Type: "string", Enum: statuses},
				"assigned_agent": {Type: "string", Description: "Asesor asignado."},
				"sale_id":        {Type: "string"},
				"amount":         {Type: "number"},
				"loss_reason":    {Type: "string"},
			},
			Required: []string{"status"},
		},
		Execute: func(ctx context.Context, call ToolCall) (any, error) {
			var args statusArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			lead, err := repo.GetByID(ctx, call.LeadID)
			if err != nil {
				return nil, err
			}
			res, err := machine.Transition(ctx, lead, args.Status, lifecycle.Details{
				AssignedAgent: args.AssignedAgent,
				Score:         lead.AIScore,
				SaleID:        args.SaleID,
				Amount:        args.Amount,
				LossReason:    args.LossReason,
				ProcessedBy:   "assistant",
			})
			if err != nil && (res == nil || !errors.Is(err, lifecycle.ErrPersistence)) {
				return nil, err
			}
			out := map[string]any{
				"status":    res.Record.ToStatus,
				"narrative": res.Narrative,
			}
			if err != nil {
				out["warning"] = "el cambio se registrará en cuanto el sistema se recupere"
			}
			return out, nil
		},
	}
}

// RequestLeadInfoTool asks the client to collect missing contact or
// applicant details. The client posts the answers back as the result.
func RequestLeadInfoTool() Tool {
	return Tool{
		Name:        ToolRequestLeadInfo,
		Description: "Pide al cliente datos faltantes mediante un formulario (nombre, correo, ingreso, empleo).",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"fields": {Type: "array", Items: &llm.Schema{Type: "string"}},
				"reason": {Type: "string"},
			},
			Required: []string{"fields"},
		},
	}
}

type searchArgs struct {
	Query    string  `json:"query"`
	MaxPrice float64 `json:"max_price"`
}

// SearchInventoryTool lists inventory matching a free-text query.
func SearchInventoryTool(inv InventorySource) Tool {
	return Tool{
		Name:        ToolSearchInventory,
		Description: "Busca vehículos disponibles en inventario por marca, modelo o precio máximo.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"query":     {Type: "string"},
				"max_price": {Type: "number"},
			},
		},
		Execute: func(ctx context.Context, call ToolCall) (any, error) {
			var args searchArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			vehicles, err := inv.Vehicles(ctx)
			if err != nil {
				return nil, err
			}
			terms := strings.Fields(strings.ToLower(args.Query))
			matches := make([]guardrail.Vehicle, 0, len(vehicles))
			for _, v := range vehicles {
				if args.MaxPrice > 0 && v.Price > args.MaxPrice {
					continue
				}
				if matchesAll(strings.ToLower(v.Name), terms) {
					matches = append(matches, v)
				}
			}
			return map[string]any{"vehicles": matches}, nil
		},
	}
}

func matchesAll(name string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(name, t) {
			return false
		}
	}
	return true
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("conversation: invalid tool arguments: %w", err)
	}
	return nil
}
