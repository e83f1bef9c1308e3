package models

import (
	"errors"
	"fmt"
)

// ErrUnknownField is returned when a field name is not part of the MR-14 form.
var ErrUnknownField = errors.New("unknown report field")

// ExtractedFields mirrors the sections of the paper MR-14 form. Every value is a string and an
// absent value is the empty string. The JSON keys are the ones the recognizer is asked for.
type ExtractedFields struct {
	// Site identification
	Inmueble string `json:"inmueble" firestore:"inmueble"`
	SIRH     string `json:"sirh" firestore:"sirh"`
	Atencion string `json:"atencion" firestore:"atencion"`

	// Dates and personnel
	Fecha    string `json:"fecha" firestore:"fecha"`
	Tecnicos string `json:"tecnicos" firestore:"tecnicos"`
	Reporto  string `json:"reporto" firestore:"reporto"`

	// References. FolioReporte is the red number printed in the top right corner.
	Folio        string `json:"folio" firestore:"folio"`
	FolioCliente string `json:"folioCliente" firestore:"folioCliente"`
	FolioReporte string `json:"folioReporte" firestore:"folioReporte"`

	// Fault and work description
	TipoMantenimiento      string `json:"tipoMantenimiento" firestore:"tipoMantenimiento"`
	FallaReportada         string `json:"fallaReportada" firestore:"fallaReportada"`
	CondicionesEncontradas string `json:"condicionesEncontradas" firestore:"condicionesEncontradas"`
	TrabajoRealizado       string `json:"trabajoRealizado" firestore:"trabajoRealizado"`

	// Materials and equipment
	Materiales      string `json:"materiales" firestore:"materiales"`
	EquipoInstalado string `json:"equipoInstalado" firestore:"equipoInstalado"`
	EquipoRetirado  string `json:"equipoRetirado" firestore:"equipoRetirado"`

	// Checkbox groups, rendered as space-joined labels
	Clasificacion         string `json:"clasificacion" firestore:"clasificacion"`
	EstatusFinal          string `json:"estatusFinal" firestore:"estatusFinal"`
	VerificacionOperacion string `json:"verificacionOperacion" firestore:"verificacionOperacion"`

	// Sign-off
	Recepcion     string `json:"recepcion" firestore:"recepcion"`
	Observaciones string `json:"observaciones" firestore:"observaciones"`
	Evaluacion    string `json:"evaluacion" firestore:"evaluacion"`
	HoraEntrada   string `json:"horaEntrada" firestore:"horaEntrada"`
	HoraSalida    string `json:"horaSalida" firestore:"horaSalida"`
}

// FieldNames lists the JSON key of every field in form order.
var FieldNames = []string{
	"inmueble", "sirh", "atencion",
	"fecha", "tecnicos", "reporto",
	"folio", "folioCliente", "folioReporte",
	"tipoMantenimiento", "fallaReportada", "condicionesEncontradas", "trabajoRealizado",
	"materiales", "equipoInstalado", "equipoRetirado",
	"clasificacion", "estatusFinal", "verificacionOperacion",
	"recepcion", "observaciones", "evaluacion", "horaEntrada", "horaSalida",
}

func (f *ExtractedFields) ref(name string) *string {
	switch name {
	case "inmueble":
		return &f.Inmueble
	case "sirh":
		return &f.SIRH
	case "atencion":
		return &f.Atencion
	case "fecha":
		return &f.Fecha
	case "tecnicos":
		return &f.Tecnicos
	case "reporto":
		return &f.Reporto
	case "folio":
		return &f.Folio
	case "folioCliente":
		return &f.FolioCliente
	case "folioReporte":
		return &f.FolioReporte
	case "tipoMantenimiento":
		return &f.TipoMantenimiento
	case "fallaReportada":
		return &f.FallaReportada
	case "condicionesEncontradas":
		return &f.CondicionesEncontradas
	case "trabajoRealizado":
		return &f.TrabajoRealizado
	case "materiales":
		return &f.Materiales
	case "equipoInstalado":
		return &f.EquipoInstalado
	case "equipoRetirado":
		return &f.EquipoRetirado
	case "clasificacion":
		return &f.Clasificacion
	case "estatusFinal":
		return &f.EstatusFinal
	case "verificacionOperacion":
		return &f.VerificacionOperacion
	case "recepcion":
		return &f.Recepcion
	case "observaciones":
		return &f.Observaciones
	case "evaluacion":
		return &f.Evaluacion
	case "horaEntrada":
		return &f.HoraEntrada
	case "horaSalida":
		return &f.HoraSalida
	}
	return nil
}

// Get returns the value of the named field.
func (f ExtractedFields) Get(name string) (string, error) {
	p := f.ref(name)
	if p == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return *p, nil
}

// With returns a copy of f with the named field replaced.
func (f ExtractedFields) With(name, value string) (ExtractedFields, error) {
	p := f.ref(name)
	if p == nil {
		return f, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	*p = value
	return f, nil
}

// FieldsFromMap builds fields from a name to value map. Unknown keys are ignored.
func FieldsFromMap(values map[string]string) ExtractedFields {
	var f ExtractedFields
	for name, v := range values {
		if p := f.ref(name); p != nil {
			*p = v
		}
	}
	return f
}

// IsValidField reports whether name is one of FieldNames.
func IsValidField(name string) bool {
	var f ExtractedFields
	return f.ref(name) != nil
}
