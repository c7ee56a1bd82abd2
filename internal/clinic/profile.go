// Package clinic holds the clinic's public profile used in replies and prompts.
package clinic

// Profile describes the clinic as presented to patients.
type Profile struct {
	Name            string
	Address         string
	Phone           string
	EscalationPhone string
	FirstVisitPrice string
	FollowUpPrice   string
	MethodSummary   string
	Timezone        string
}

// Default returns the EQUILIBRIO clinic profile.
func Default() Profile {
	return Profile{
		Name:            "EQUILIBRIO",
		Address:         "Av. Reñaca Norte 25, Oficina 1506, Viña del Mar",
		Phone:           "+56 9 8791 8694",
		EscalationPhone: "+56 9 7533 2088",
		FirstVisitPrice: "$35.000",
		FollowUpPrice:   "$40.000",
		MethodSummary: "El Método Equilibrio es una técnica quiropráctica que trabaja con la " +
			"columna vertebral, sistema nervioso y postura para mejorar el bienestar general del paciente.",
		Timezone: "America/Santiago",
	}
}
