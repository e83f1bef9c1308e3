package services

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
)

// Pinger makes the smallest possible recognizer request.
type Pinger interface {
	Ping(ctx context.Context, model string) error
}

// PreflightStatus is the verdict of a credential check.
type PreflightStatus string

const (
	PreflightOK      PreflightStatus = "ok"
	PreflightBlocked PreflightStatus = "blocked"
	PreflightQuota   PreflightStatus = "quota"
	PreflightError   PreflightStatus = "error"
)

// PreflightResult carries the verdict and a user-facing message.
type PreflightResult struct {
	Status  PreflightStatus `json:"status"`
	Message string          `json:"message"`
}

// PreflightConfig is what ValidateCredentials needs to know about the setup.
type PreflightConfig struct {
	ProjectID       string
	CredentialsFile string
	Model           string
}

// ValidateCredentials checks the configuration locally, then pings the recognizer.
func ValidateCredentials(ctx context.Context, pinger Pinger, cfg PreflightConfig) PreflightResult {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return PreflightResult{PreflightBlocked, "No se detectó ningún proyecto de Google Cloud configurado."}
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return PreflightResult{PreflightBlocked, "No se encontró el archivo de credenciales configurado."}
		}
	}
	if pinger == nil {
		return PreflightResult{PreflightError, "No se pudo crear el cliente de Vertex AI."}
	}

	err := pinger.Ping(ctx, cfg.Model)
	if err == nil {
		return PreflightResult{PreflightOK, "Conectado correctamente."}
	}
	return preflightFromError(err)
}

func preflightFromError(err error) PreflightResult {
	msg := strings.ToLower(err.Error())
	code := StatusCode(err)

	switch {
	case isDisabledMessage(msg):
		return PreflightResult{PreflightBlocked, "La API de Vertex AI no está habilitada en tu Google Cloud Console."}
	case strings.Contains(msg, "key") || strings.Contains(msg, "permission") ||
		code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
		return PreflightResult{PreflightBlocked, "Las credenciales son inválidas, han sido revocadas o el proyecto de Google Cloud está cerrado."}
	case strings.Contains(msg, "quota") || strings.Contains(msg, "429") || code == http.StatusTooManyRequests:
		return PreflightResult{PreflightQuota, "Se ha agotado la cuota de la API."}
	case strings.Contains(msg, "fetch") || strings.Contains(msg, "network") || errors.Is(err, context.DeadlineExceeded):
		return PreflightResult{PreflightError, "Error de conexión a internet. No se pudieron validar las credenciales."}
	}
	return PreflightResult{PreflightError, "Error desconocido al validar credenciales: " + msg}
}
