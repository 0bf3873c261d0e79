package triage

// SeverityLevel is one stage of a disease's clinical progression.
type SeverityLevel struct {
	Level string `json:"level"`
	Note  string `json:"note"`
}

// Info is the static clinical text attached to a label.
type Info struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Symptoms       []string        `json:"symptoms"`
	Treatments     []string        `json:"treatments"`
	SeverityLevels []SeverityLevel `json:"severity_levels,omitempty"`
}

// catalog is indexed by Label so every label has an entry.
var catalog = [labelCount]Info{
	LabelNormal: {
		Name:        "Normal",
		Description: "No signs of pneumonia, tuberculosis, or lung cancer detected. Chest X-ray appears normal.",
		Symptoms:    []string{},
		Treatments:  []string{},
	},
	LabelPneumonia: {
		Name:        "Pneumonia",
		Description: "An infection that inflames air sacs in one or both lungs, filling them with fluid or pus",
		Symptoms: []string{
			"Chest pain when breathing or coughing",
			"Cough with phlegm or pus",
			"Fever, sweating and shaking chills",
			"Shortness of breath",
			"Fatigue",
			"Nausea, vomiting or diarrhea",
		},
		Treatments: []string{
			"Antibiotics (for bacterial pneumonia)",
			"Antiviral medications (for viral pneumonia)",
			"Rest and increased fluid intake",
			"Over-the-counter pain relievers",
			"Hospitalization if severe",
		},
		SeverityLevels: []SeverityLevel{
			{Level: "mild", Note: "Outpatient treatment with oral antibiotics"},
			{Level: "moderate", Note: "May require short hospitalization"},
			{Level: "severe", Note: "ICU admission and intensive treatment"},
		},
	},
	LabelTuberculosis: {
		Name:        "Tuberculosis (TB)",
		Description: "A bacterial infection caused by Mycobacterium tuberculosis that primarily affects the lungs",
		Symptoms: []string{
			"Persistent cough lasting 3+ weeks",
			"Coughing up blood or sputum",
			"Chest pain or pain with breathing",
			"Unintentional weight loss",
			"Fatigue and weakness",
			"Night sweats",
			"Chills and fever",
		},
		Treatments: []string{
			"Anti-TB medication course (6-9 months)",
			"Isoniazid, Rifampin, Pyrazinamide, Ethambutol",
			"Directly Observed Therapy (DOT)",
			"Regular monitoring and testing",
			"Isolation during infectious period",
		},
		SeverityLevels: []SeverityLevel{
			{Level: "latent", Note: "Not infectious, preventive treatment"},
			{Level: "active", Note: "Infectious, immediate treatment required"},
			{Level: "drug_resistant", Note: "Extended treatment with special drugs"},
		},
	},
	LabelLungCancer: {
		Name:        "Lung Cancer",
		Description: "Cancer that begins in the lungs, often linked to smoking but can affect non-smokers",
		Symptoms: []string{
			"Persistent cough that gets worse",
			"Coughing up blood",
			"Shortness of breath",
			"Chest pain",
			"Hoarseness",
			"Unexplained weight loss",
			"Bone pain",
			"Headache",
		},
		Treatments: []string{
			"Surgery (lobectomy, pneumonectomy)",
			"Chemotherapy",
			"Radiation therapy",
			"Targeted therapy",
			"Immunotherapy",
			"Palliative care",
		},
		SeverityLevels: []SeverityLevel{
			{Level: "stage_1", Note: "Early stage, confined to lung"},
			{Level: "stage_2", Note: "Spread to nearby lymph nodes"},
			{Level: "stage_3", Note: "Spread to mediastinal lymph nodes"},
			{Level: "stage_4", Note: "Metastatic, spread to other organs"},
		},
	},
	LabelLungCancerBenign: {
		Name:        "Benign Lung Tumor",
		Description: "Non-cancerous growths in the lungs that do not spread to other parts of the body",
		Symptoms: []string{
			"Mild cough",
			"Shortness of breath (if large)",
			"Chest discomfort",
			"Usually asymptomatic",
		},
		Treatments: []string{
			"Regular monitoring",
			"Surgical removal if symptomatic",
			"Follow-up imaging",
			"No chemotherapy needed",
		},
		SeverityLevels: []SeverityLevel{
			{Level: "small", Note: "Monitor with regular imaging"},
			{Level: "large", Note: "May require surgical removal"},
			{Level: "symptomatic", Note: "Requires intervention"},
		},
	},
	LabelLungCancerMalignant: {
		Name:        "Malignant Lung Cancer",
		Description: "Cancerous growths in the lungs that can spread to other organs and require immediate treatment",
		Symptoms: []string{
			"Persistent cough with blood",
			"Severe shortness of breath",
			"Chest pain",
			"Rapid weight loss",
			"Fatigue",
			"Bone pain",
			"Neurological symptoms",
		},
		Treatments: []string{
			"Immediate oncology consultation",
			"Staging scans (CT, PET)",
			"Surgery if operable",
			"Chemotherapy",
			"Radiation therapy",
			"Targeted therapy",
			"Immunotherapy",
		},
		SeverityLevels: []SeverityLevel{
			{Level: "early", Note: "T1-T2, localized, good prognosis"},
			{Level: "advanced", Note: "T3-T4, regional spread"},
			{Level: "metastatic", Note: "M1, distant metastases"},
		},
	},
	LabelError: {
		Name:        "Analysis Error",
		Description: "The classifier could not produce a usable result for this image.",
		Symptoms:    []string{},
		Treatments:  []string{},
	},
}

// Lookup returns the clinical text for a label. The returned slices are
// copies and may be modified by the caller.
func Lookup(l Label) Info {
	if l >= labelCount {
		return catalog[LabelError].clone()
	}
	return catalog[l].clone()
}

func (i Info) clone() Info {
	out := i
	out.Symptoms = append([]string{}, i.Symptoms...)
	out.Treatments = append([]string{}, i.Treatments...)
	if i.SeverityLevels != nil {
		out.SeverityLevels = append([]SeverityLevel{}, i.SeverityLevels...)
	}
	return out
}
