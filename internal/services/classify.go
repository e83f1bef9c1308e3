package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/mr14capture/internal/gcp"
	"github.com/Lllllllleong/mr14capture/internal/models"
)

// Classify maps a recognizer or local error to a Failure. It is pure and never waits.
func Classify(err error) models.Failure {
	if err == nil {
		return models.Failure{Kind: models.KindUnknown}
	}
	code := StatusCode(err)
	return models.Failure{
		Kind:       classifyKind(err, code, strings.ToLower(err.Error())),
		StatusCode: code,
		Message:    err.Error(),
		Err:        err,
	}
}

func classifyKind(err error, code int, msg string) models.ErrorKind {
	// Typed signals first: these never depend on message wording.
	switch {
	case errors.Is(err, gcp.ErrSafetyBlocked):
		return models.KindContentSafety
	case errors.Is(err, gcp.ErrRecitationBlocked):
		return models.KindContentOverlap
	case errors.Is(err, ErrDecode):
		return models.KindDecode
	case errors.Is(err, ErrMalformedOutput), errors.Is(err, gcp.ErrEmptyResponse):
		return models.KindMalformed
	case errors.Is(err, context.Canceled):
		return models.KindCancelled
	}

	switch code {
	case http.StatusGatewayTimeout:
		return models.KindTimeout
	case http.StatusTooManyRequests:
		return models.KindQuota
	case http.StatusServiceUnavailable:
		return models.KindOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		if isDisabledMessage(msg) {
			return models.KindAPIDisabled
		}
		return models.KindCredential
	}

	switch {
	case containsAny(msg, "time", "504"):
		return models.KindTimeout
	case containsAny(msg, "quota", "429", "exhausted", "too many"):
		return models.KindQuota
	case containsAny(msg, "overloaded", "503"):
		return models.KindOverloaded
	case isDisabledMessage(msg):
		return models.KindAPIDisabled
	case containsAny(msg, "api key", "api_key", "permission denied", "unauthenticated", "403", "401"):
		return models.KindCredential
	case containsAny(msg, "fetch", "network", "connection refused", "connection reset", "no such host"):
		return models.KindNetwork
	case containsAny(msg, "json", "parse"):
		return models.KindMalformed
	}
	return models.KindUnknown
}

func isDisabledMessage(msg string) bool {
	return containsAny(msg, "disabled", "enable", "not been used")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// StatusCode extracts an HTTP-equivalent status code from err, or 0 when there is none.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if c := aerr.HTTPCode(); c > 0 {
			return c
		}
		if s := aerr.GRPCStatus(); s != nil {
			return httpFromGRPC(s.Code())
		}
	}
	if s, ok := status.FromError(err); ok {
		if c := httpFromGRPC(s.Code()); c != 0 {
			return c
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return 0
}

func httpFromGRPC(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Internal:
		return http.StatusInternalServerError
	}
	return 0
}

type errorText struct {
	title       string
	description string
}

var errorTexts = map[models.ErrorKind]errorText{
	models.KindTimeout: {
		"TIEMPO DE ESPERA AGOTADO (TIMEOUT)",
		"Google AI tardó demasiado procesando la imagen.",
	},
	models.KindQuota: {
		"LÍMITE DE CUOTA EXCEDIDO (429)",
		"Se ha alcanzado el límite de uso de la API de Google.",
	},
	models.KindOverloaded: {
		"SERVIDOR SOBRECARGADO (503)",
		"El modelo de IA tiene demasiada demanda en este momento. Inténtalo de nuevo en unos minutos.",
	},
	models.KindAPIDisabled: {
		"API DESHABILITADA",
		"Debes ir a Google Cloud Console y habilitar la API de Vertex AI para tu proyecto.",
	},
	models.KindCredential: {
		"CREDENCIALES INVÁLIDAS (403)",
		"Las credenciales son incorrectas, no tienen permisos o el proyecto de facturación no está vinculado. Revisa la configuración.",
	},
	models.KindNetwork: {
		"ERROR DE CONEXIÓN",
		"No se pudo establecer conexión con los servidores de Google. Verifica tu red.",
	},
	models.KindMalformed: {
		"ERROR DE LECTURA (JSON)",
		"La IA no pudo estructurar los datos correctamente. Probablemente la imagen no es clara o no es un reporte válido.",
	},
	models.KindContentSafety: {
		"CONTENIDO BLOQUEADO",
		"El servicio rechazó el documento por sus filtros de seguridad de contenido.",
	},
	models.KindContentOverlap: {
		"RESPUESTA BLOQUEADA (RECITACIÓN)",
		"El servicio detuvo la respuesta por coincidir con contenido existente.",
	},
	models.KindDecode: {
		"ARCHIVO ILEGIBLE",
		"No se pudo leer el archivo. Verifica que sea una imagen o un PDF válido.",
	},
	models.KindCancelled: {
		"PROCESAMIENTO CANCELADO",
		"El lote se detuvo antes de terminar este documento.",
	},
	models.KindUnknown: {
		"Error de Procesamiento",
		"Ocurrió un error desconocido. Verifica tu imagen y conexión.",
	},
}

// FinalMessage renders the user-facing message for a document's last failure:
// "TITLE: description [Código: N]" or "TITLE: description [first 50 chars...]".
func FinalMessage(f models.Failure) string {
	text, ok := errorTexts[f.Kind]
	if !ok {
		text = errorTexts[models.KindUnknown]
	}
	description := text.description
	if f.Kind == models.KindTimeout {
		msg := strings.ToLower(f.Message)
		switch {
		case strings.Contains(msg, "gateway"):
			description = "El servidor tardó demasiado en responder (504 Gateway Timeout)."
		case strings.Contains(msg, "fetch"):
			description = "Tu conexión a internet se interrumpió o es muy lenta."
		}
	}

	var detail string
	if f.StatusCode != 0 {
		detail = fmt.Sprintf("[Código: %d]", f.StatusCode)
	} else {
		detail = fmt.Sprintf("[%s...]", truncateRunes(strings.ToLower(f.Message), 50))
	}
	return fmt.Sprintf("%s: %s %s", text.title, description, detail)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
