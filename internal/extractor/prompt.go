package extractor

// extractionPrompt asks a general-purpose model for the canonical JSON shape.
const extractionPrompt = `You are a medical data extraction assistant. Extract structured information from the medical document.

Extract:
1. Patient demographics (name, age, gender, phone, address, city, state)
2. Diseases/Diagnoses. This is the most important part. Expand all abbreviations:
   DM -> Diabetes Mellitus, HTN -> Hypertension, CAD -> Coronary Artery Disease,
   CKD -> Chronic Kidney Disease, COPD -> Chronic Obstructive Pulmonary Disease, TB -> Tuberculosis
3. Symptoms
4. Medications with dosage
5. Lab results
6. Vitals
7. Hospital/Doctor info and visit date

Return ONLY valid JSON in this exact format (no markdown, no extra text):
{
  "patient": {"name": "string or null", "age": 45, "gender": "male/female/other", "phone": "string or null", "address": "string or null", "city": "string or null", "state": "string or null"},
  "diseases": [{"name": "Full Disease Name", "icd_code": "string or null", "severity": "mild/moderate/severe or null"}],
  "symptoms": ["symptom"],
  "medications": [{"name": "Drug Name", "dosage": "string", "frequency": "string"}],
  "lab_results": [{"test": "Test Name", "value": "string", "unit": "string"}],
  "vitals": {"blood_pressure": "string or null", "pulse": "string or null", "temperature": "string or null"},
  "facility": {"hospital_name": "string or null", "doctor_name": "string or null", "visit_date": "string or null"}
}`

func promptFor(documentType string) string {
	switch documentType {
	case "prescription":
		return extractionPrompt + "\n\nThis is a medical prescription (may be handwritten). Extract all patient info, diagnoses, and medications."
	case "lab_report":
		return extractionPrompt + "\n\nThis is a lab report. Extract patient info, test names, values, and identify abnormal results."
	}
	return extractionPrompt
}

func textPrompt(documentType, text string) string {
	return promptFor(documentType) + "\n\nExtract medical information from this clinical text:\n\n" + text
}
