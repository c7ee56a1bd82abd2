package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAILLMClient implements LLMClient against the OpenAI chat API. It
// exposes the same booking tools as the Gemini client so the
// orchestrator cannot tell the providers apart.
type OpenAILLMClient struct {
	client  chatClient
	modelID string
}

// NewOpenAILLMClient creates an OpenAI-backed LLM client.
func NewOpenAILLMClient(apiKey, modelID string) (*OpenAILLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: openai api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gpt-4o-mini"
	}
	return &OpenAILLMClient{
		client:  openai.NewClient(apiKey),
		modelID: modelID,
	}, nil
}

// Complete sends a completion request to OpenAI and returns the response.
func (c *OpenAILLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if len(req.Messages) == 0 {
		return LLMResponse{}, errors.New("conversation: openai requires at least one message")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if len(req.System) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(req.System, "\n\n"),
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case ChatRoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case ChatRoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	request := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Tools:       openaiTools(),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = int(req.MaxTokens)
	}
	if req.TopP > 0 {
		request.TopP = float32(req.TopP)
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, errors.New("conversation: openai returned no choices")
	}

	choice := resp.Choices[0]
	result := LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Provider:   "openai",
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}

	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return LLMResponse{}, fmt.Errorf("conversation: openai tool arguments: %w", err)
			}
		}
		result.Call = &FunctionCall{Name: call.Function.Name, Args: args}
	}

	return result, nil
}

func openaiTools() []openai.Tool {
	slotProps := map[string]any{
		"fecha": map[string]any{"type": "string", "description": "Fecha de la cita en formato YYYY-MM-DD o DD/MM/YYYY"},
		"hora":  map[string]any{"type": "string", "description": "Hora de inicio, por ejemplo 15:00 o 15"},
	}

	fn := func(name, description string, properties map[string]any, required []string) openai.Tool {
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		}
	}

	return []openai.Tool{
		fn(fnBookAppointment,
			"Agendar una cita cuando el paciente ya entregó nombre completo, contacto, fecha y hora.",
			map[string]any{
				"nombre":   map[string]any{"type": "string", "description": "Nombre y apellido del paciente"},
				"contacto": map[string]any{"type": "string", "description": "Teléfono o correo del paciente"},
				"fecha":    slotProps["fecha"],
				"hora":     slotProps["hora"],
			},
			[]string{"nombre", "contacto", "fecha", "hora"}),
		fn(fnBookPackage,
			"Agendar varias sesiones de una vez (pack de tratamiento) cuando el paciente pidió más de una cita.",
			map[string]any{
				"nombre":   map[string]any{"type": "string", "description": "Nombre y apellido del paciente"},
				"contacto": map[string]any{"type": "string", "description": "Teléfono o correo del paciente"},
				"citas": map[string]any{
					"type":        "array",
					"description": "Lista de sesiones pedidas",
					"items": map[string]any{
						"type":       "object",
						"properties": slotProps,
						"required":   []string{"fecha", "hora"},
					},
				},
			},
			[]string{"nombre", "contacto", "citas"}),
		fn(fnShowAvailability,
			"Consultar los horarios disponibles de un día (o rango corto) cuando el paciente pregunta qué horas hay.",
			map[string]any{
				"fecha":       map[string]any{"type": "string", "description": "Fecha consultada en formato YYYY-MM-DD"},
				"fecha_hasta": map[string]any{"type": "string", "description": "Fin opcional del rango, YYYY-MM-DD"},
			},
			[]string{"fecha"}),
		fn(fnRequestMissingField,
			"Indicar qué datos faltan para poder agendar (nombre, contacto, fecha u hora).",
			map[string]any{
				"campos": map[string]any{
					"type":        "array",
					"description": "Datos que faltan",
					"items":       map[string]any{"type": "string"},
				},
			},
			[]string{"campos"}),
		fn(fnEscalateToHuman,
			"Derivar la conversación a un humano cuando hay una condición médica delicada o el paciente lo pide.",
			map[string]any{
				"motivo": map[string]any{"type": "string", "description": "Motivo de la derivación"},
			},
			[]string{"motivo"}),
	}
}
