package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLLMClient implements LLMClient using Google's Gemini API with
// the booking function declarations attached, so the model answers
// either with conversational text or with a structured call.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiLLMClient creates a new Gemini LLM client.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiLLMClient{
		client:  client,
		modelID: modelID,
	}, nil
}

// Complete sends a completion request to Gemini and returns the response.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	model := c.client.GenerativeModel(c.modelID)

	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	model.Tools = []*genai.Tool{{FunctionDeclarations: geminiFunctions()}}

	if len(req.System) > 0 {
		systemText := strings.Join(req.System, "\n\n")
		if strings.TrimSpace(systemText) != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}

	cs := model.StartChat()

	// All messages except the last one become chat history.
	if len(req.Messages) > 1 {
		for _, msg := range req.Messages[:len(req.Messages)-1] {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			if msg.Role == ChatRoleSystem {
				continue
			}

			role := "user"
			if msg.Role == ChatRoleAssistant {
				role = "model"
			}

			cs.History = append(cs.History, &genai.Content{
				Role:  role,
				Parts: []genai.Part{genai.Text(content)},
			})
		}
	}

	if len(req.Messages) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini requires at least one message")
	}

	lastMsg := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(lastMsg.Content))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned empty content")
	}

	var responseText strings.Builder
	var call *FunctionCall
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			responseText.WriteString(string(p))
		case genai.FunctionCall:
			if call == nil {
				call = &FunctionCall{Name: p.Name, Args: p.Args}
			}
		}
	}

	result := LLMResponse{
		Text:       strings.TrimSpace(responseText.String()),
		Call:       call,
		StopReason: string(candidate.FinishReason),
		Provider:   "gemini",
	}

	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}

	return result, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func geminiFunctions() []*genai.FunctionDeclaration {
	slotProps := map[string]*genai.Schema{
		"fecha": {Type: genai.TypeString, Description: "Fecha de la cita en formato YYYY-MM-DD o DD/MM/YYYY"},
		"hora":  {Type: genai.TypeString, Description: "Hora de inicio, por ejemplo 15:00 o 15"},
	}

	return []*genai.FunctionDeclaration{
		{
			Name:        fnBookAppointment,
			Description: "Agendar una cita cuando el paciente ya entregó nombre completo, contacto, fecha y hora.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"nombre":   {Type: genai.TypeString, Description: "Nombre y apellido del paciente"},
					"contacto": {Type: genai.TypeString, Description: "Teléfono o correo del paciente"},
					"fecha":    slotProps["fecha"],
					"hora":     slotProps["hora"],
				},
				Required: []string{"nombre", "contacto", "fecha", "hora"},
			},
		},
		{
			Name:        fnBookPackage,
			Description: "Agendar varias sesiones de una vez (pack de tratamiento) cuando el paciente pidió más de una cita.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"nombre":   {Type: genai.TypeString, Description: "Nombre y apellido del paciente"},
					"contacto": {Type: genai.TypeString, Description: "Teléfono o correo del paciente"},
					"citas": {
						Type:        genai.TypeArray,
						Description: "Lista de sesiones pedidas",
						Items: &genai.Schema{
							Type:       genai.TypeObject,
							Properties: slotProps,
							Required:   []string{"fecha", "hora"},
						},
					},
				},
				Required: []string{"nombre", "contacto", "citas"},
			},
		},
		{
			Name:        fnShowAvailability,
			Description: "Consultar los horarios disponibles de un día (o rango corto) cuando el paciente pregunta qué horas hay.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"fecha":       {Type: genai.TypeString, Description: "Fecha consultada en formato YYYY-MM-DD"},
					"fecha_hasta": {Type: genai.TypeString, Description: "Fin opcional del rango, YYYY-MM-DD"},
				},
				Required: []string{"fecha"},
			},
		},
		{
			Name:        fnRequestMissingField,
			Description: "Indicar qué datos faltan para poder agendar (nombre, contacto, fecha u hora).",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"campos": {
						Type:        genai.TypeArray,
						Description: "Datos que faltan",
						Items:       &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"campos"},
			},
		},
		{
			Name:        fnEscalateToHuman,
			Description: "Derivar la conversación a un humano cuando hay una condición médica delicada o el paciente lo pide.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"motivo": {Type: genai.TypeString, Description: "Motivo de la derivación"},
				},
				Required: []string{"motivo"},
			},
		},
	}
}
