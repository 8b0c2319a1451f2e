package ingestion

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jwalitptl/healthbridge/internal/model"
)

type DocumentType string

const (
	TypeLabReport      DocumentType = "lab_report"
	TypePrescription   DocumentType = "prescription"
	TypeClinicalText   DocumentType = "clinical_text"
	TypeStructuredData DocumentType = "structured_data"
	TypeUnknown        DocumentType = "unknown"
)

type ContentCategory string

const (
	CategoryImage      ContentCategory = "image"
	CategoryPDF        ContentCategory = "pdf"
	CategoryText       ContentCategory = "text"
	CategoryStructured ContentCategory = "structured"
)

// Classification is the dispatch decision for one input.
type Classification struct {
	Type     DocumentType    `json:"document_type"`
	Category ContentCategory `json:"content_category"`
	MIMEType string          `json:"mime_type"`
}

var hintTypes = map[string]DocumentType{
	"lab_report":      TypeLabReport,
	"lab":             TypeLabReport,
	"laboratory":      TypeLabReport,
	"test_result":     TypeLabReport,
	"printed_lab":     TypeLabReport,
	"prescription":    TypePrescription,
	"rx":              TypePrescription,
	"medicine":        TypePrescription,
	"handwritten":     TypePrescription,
	"clinical":        TypeClinicalText,
	"clinical_text":   TypeClinicalText,
	"notes":           TypeClinicalText,
	"transcript":      TypeClinicalText,
	"structured_data": TypeStructuredData,
	"csv":             TypeStructuredData,
	"json":            TypeStructuredData,
	"database":        TypeStructuredData,
	"export":          TypeStructuredData,
	"clinical_db":     TypeStructuredData,
}

// HintFromDeclared converts the stored upload type into a classifier hint.
func HintFromDeclared(t model.DeclaredType) string {
	if t == model.DeclaredOther {
		return ""
	}
	return string(t)
}

var (
	labKeywords = []string{
		"lab", "laboratory", "pathology", "diagnostic", "test result",
		"blood test", "urine test", "hemoglobin", "creatinine", "glucose",
		"cholesterol", "hba1c", "thyroid", "liver function", "kidney function",
		"cbc", "complete blood count", "lipid profile",
	}
	prescriptionKeywords = []string{
		"rx", "prescription", "medicine", "tablet", "capsule", "syrup",
		"mg", "ml", "dose", "twice daily", "once daily", "before meal",
		"after meal", "sos", "prn", "stat",
	}
	clinicalKeywords = []string{
		"patient", "chief complaint", "diagnosis", "history", "examination",
		"vitals", "blood pressure", "pulse", "treatment", "advised",
		"follow up", "referred",
	}
)

// DetectMIME returns the declared type unless it is missing or generic, in
// which case the content is sniffed. Parameters such as charset are dropped.
func DetectMIME(declared string, content []byte) string {
	declared = baseMIME(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(content) == 0 {
		return declared
	}
	return baseMIME(mimetype.Detect(content).String())
}

func baseMIME(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(v, ";", 2)[0]))
	}
	return mt
}

// Classify picks the document type and content category. Structured files are
// always structured data; otherwise a recognised hint wins, then text keyword
// scores, then filename hints.
func Classify(filename, contentType string, content []byte, hint string) Classification {
	mt := DetectMIME(contentType, content)
	c := Classification{Category: categoryOf(mt, filename), MIMEType: mt}

	if c.Category == CategoryStructured {
		c.Type = TypeStructuredData
		return c
	}
	if t, ok := hintTypes[strings.ToLower(strings.TrimSpace(hint))]; ok && t != TypeStructuredData {
		c.Type = t
		return c
	}
	if c.Category == CategoryText && len(content) > 0 {
		c.Type = classifyText(string(content))
		return c
	}
	c.Type = classifyFilename(filename)
	return c
}

func categoryOf(mt, filename string) ContentCategory {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch {
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case strings.Contains(mt, "pdf"):
		return CategoryPDF
	case strings.Contains(mt, "csv") || ext == "csv":
		return CategoryStructured
	case strings.Contains(mt, "json") || ext == "json":
		return CategoryStructured
	case strings.HasPrefix(mt, "text/"):
		return CategoryText
	}
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "webp":
		return CategoryImage
	case "pdf":
		return CategoryPDF
	case "txt", "text", "md":
		return CategoryText
	}
	return CategoryPDF
}

func score(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func classifyText(text string) DocumentType {
	text = strings.ToLower(text)
	lab := score(text, labKeywords)
	rx := score(text, prescriptionKeywords)
	clinical := score(text, clinicalKeywords)

	switch top := maxInt(lab, rx, clinical); {
	case top == 0:
		return TypeClinicalText
	case lab == top:
		return TypeLabReport
	case rx == top:
		return TypePrescription
	default:
		return TypeClinicalText
	}
}

func classifyFilename(filename string) DocumentType {
	name := strings.ToLower(filename)
	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}
	switch {
	case containsAny("lab", "report", "test", "pathology", "diagnostic", "result"):
		return TypeLabReport
	case containsAny("prescription", "rx", "medicine", "drug"):
		return TypePrescription
	case containsAny("clinical", "note", "summary", "discharge", "opd", "ipd"):
		return TypeClinicalText
	}
	return TypePrescription
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
