package gcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// --- MR-14 Extraction Prompts ---
const MR14SystemPrompt = `Eres un experto en digitalización de documentos técnicos "MR-14" de COMEXA.
Tu tarea es realizar una transcripción COMPLETA, LITERAL y FIDEDIGNA.
Analiza el documento (imagen o PDF) y extrae datos para cada casilla del formato.

INSTRUCCIONES ESPECÍFICAS:
1. **Folio Rojo**: En la esquina superior derecha suele haber un número en color rojo (ej. 67029). Extráelo en 'folioReporte'.
2. **Atención**: Busca el campo "ATENCIÓN" (suele contener el nombre del Banco o Cliente, ej. Banamex, Santander).
3. **Folios**: Distingue entre 'Folio de Cliente' y 'Folio de Comexa' (a veces llamado RFQ, TASK).
4. **Mantenimiento**: Identifica qué casilla (Preventivo, Correctivo, Proyecto, etc.) tiene una 'X' o marca.
5. **Textos Largos**: Transcribe TODO el contenido de 'Falla Reportada', 'Condiciones', 'Trabajo Realizado' y 'Observaciones'. NO RESUMAS.
6. **Tablas**: En 'Equipo Instalado' y 'Retirado', concatena modelo y serie.
7. **Checkboxes Inferiores**:
   - Clasificación (Electrónica, Mecánica, etc.)
   - Estado Final (Reparación Total, Parcial, etc.)
   - Verificación de Operación (Centralizado, Local, Alarmas, etc.)
   - Evaluación (Tiempo, Dominio, Actitud).
   Devuelve las casillas marcadas de cada grupo como etiquetas separadas por espacios.
8. **Firmas**: Intenta leer el nombre en 'Recepción' y 'Técnicos'.

**DICCIONARIO TÉCNICO**:
Hardware: culcas, expansoras, conexiones, prowatch, transfer, esclusa, sensor, cámaras, cableado, panel, batería, tren, cajas, resistencia, RCC, CIISS, MC, BA, IR, respaldo.
Verbos: falla, comunicación, operación, remplazo, restableciendo, revisa, instala, acude, encuentra, validar, procede, ayuda, pruebas.

Si un campo está vacío o ilegible, déjalo como cadena vacía.
Evalúa la legibilidad del 1 al 10 en 'confidenceScore'.`

const MR14UserPrompt = "Analiza la imagen adjunta. Extrae los datos del formulario MR-14 y devuélvelos EXCLUSIVAMENTE en formato JSON."

// PingPrompt is the minimal request used to check that credentials and quota are usable.
const PingPrompt = "ping"

var fieldDescriptions = map[string]string{
	"inmueble":               "Nombre del inmueble",
	"sirh":                   "Sede / Zona / SIRH",
	"atencion":               "Nombre del cliente en campo ATENCIÓN",
	"fecha":                  "Fecha del reporte",
	"tecnicos":               "Nombres de los técnicos",
	"reporto":                "Nombre de quien reportó",
	"folio":                  "Folio de Comexa / Task / RFQ",
	"folioCliente":           "Folio de Cliente",
	"folioReporte":           "Folio numérico en color rojo",
	"tipoMantenimiento":      "Texto de casillas marcadas en Mantenimiento",
	"fallaReportada":         "Transcripción literal de Falla Reportada",
	"condicionesEncontradas": "Transcripción literal de Condiciones",
	"trabajoRealizado":       "Transcripción literal completa de Trabajo Realizado",
	"materiales":             "Material o Refacciones",
	"equipoInstalado":        "Lista de equipos instalados con serie",
	"equipoRetirado":         "Lista de equipos retirados con serie",
	"clasificacion":          "Casillas marcadas en Clasificación",
	"estatusFinal":           "Casillas marcadas en Estado Final",
	"verificacionOperacion":  "Casillas marcadas en Operación",
	"recepcion":              "Nombre en campo Recepción",
	"observaciones":          "Observaciones y/o Comentarios",
	"evaluacion":             "Datos de evaluación",
	"horaEntrada":            "Hora de entrada",
	"horaSalida":             "Hora de salida",
}

// MR14ResponseSchema is the output-shape contract sent with every extraction request.
func MR14ResponseSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(models.FieldNames)+1)
	for _, name := range models.FieldNames {
		props[name] = &genai.Schema{Type: genai.TypeString, Description: fieldDescriptions[name]}
	}
	props["confidenceScore"] = &genai.Schema{Type: genai.TypeInteger, Description: "Puntaje de legibilidad 1-10"}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   []string{"inmueble", "fecha", "trabajoRealizado", "confidenceScore"},
	}
}

var (
	// ErrSafetyBlocked means the recognizer refused the request on content-safety grounds.
	ErrSafetyBlocked = errors.New("response blocked by content safety filters")
	// ErrRecitationBlocked means the recognizer stopped because the output overlapped with
	// existing content.
	ErrRecitationBlocked = errors.New("response blocked for content recitation")
	// ErrEmptyResponse means the recognizer answered without any text.
	ErrEmptyResponse = errors.New("empty response from recognizer")
)

// VertexClient hands out generative models configured for MR-14 extraction, one per model name.
type VertexClient struct {
	baseClient *genai.Client

	mu     sync.Mutex
	models map[string]*genai.GenerativeModel
}

// NewVertexClient creates a client for the given project and region.
func NewVertexClient(ctx context.Context, projectID, region string, opts ...option.ClientOption) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		baseClient: baseClient,
		models:     make(map[string]*genai.GenerativeModel),
	}, nil
}

// extractionModel returns the cached model for name, configuring it on first use.
func (c *VertexClient) extractionModel(name string) *genai.GenerativeModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m
	}
	m := c.baseClient.GenerativeModel(name)
	ConfigureExtractionModel(m)
	c.models[name] = m
	return m
}

// ConfigureExtractionModel applies the MR-14 instructions, output contract and safety thresholds.
func ConfigureExtractionModel(m *genai.GenerativeModel) {
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(MR14SystemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   MR14ResponseSchema(),
		Temperature:      genai.Ptr[float32](0.1),
	}
	// Industrial photographs trip the default filters, so every category is relaxed.
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
}

// Recognize sends one encoded document to the named model and returns the raw response text.
func (c *VertexClient) Recognize(ctx context.Context, modelName string, doc models.EncodedDocument) (string, error) {
	data, err := base64.StdEncoding.DecodeString(doc.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode document payload: %w", err)
	}

	model := c.extractionModel(modelName)
	filePart := genai.Blob{MIMEType: doc.MIMEType, Data: data}
	prompt := genai.Text(MR14UserPrompt)

	resp, err := model.GenerateContent(ctx, filePart, prompt)
	if err != nil {
		if blockedErr := asBlocked(err); blockedErr != nil {
			return "", blockedErr
		}
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return ResponseText(resp)
}

// Ping issues a one-token request against modelName.
func (c *VertexClient) Ping(ctx context.Context, modelName string) error {
	model := c.baseClient.GenerativeModel(modelName)
	_, err := model.GenerateContent(ctx, genai.Text(PingPrompt))
	if err != nil {
		if blockedErr := asBlocked(err); blockedErr != nil {
			return blockedErr
		}
		return fmt.Errorf("ping %s: %w", modelName, err)
	}
	return nil
}

func asBlocked(err error) error {
	var blocked *genai.BlockedError
	if !errors.As(err, &blocked) {
		return nil
	}
	if blocked.Candidate != nil && blocked.Candidate.FinishReason == genai.FinishReasonRecitation {
		return fmt.Errorf("%w: %v", ErrRecitationBlocked, err)
	}
	return fmt.Errorf("%w: %v", ErrSafetyBlocked, err)
}

// ResponseText checks the completion signal of the first candidate and concatenates its text parts.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked (%v)", ErrSafetyBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		return "", fmt.Errorf("%w: finish reason %v", ErrSafetyBlocked, candidate.FinishReason)
	case genai.FinishReasonRecitation:
		return "", fmt.Errorf("%w: finish reason %v", ErrRecitationBlocked, candidate.FinishReason)
	}

	if candidate.Content == nil {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
