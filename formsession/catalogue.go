package formsession

// TestRow is one conductor pair of the test results table.
type TestRow struct {
	From string
	To   string
	// FixedInsulation, when set, is the only allowed insulation value.
	FixedInsulation string
}

// VisualItems are the section 2 checks.
var VisualItems = []string{
	"Equipment installed as per AS/NZS 4777.1:2024 and manufacturer's installation manual",
	"Signage installed correctly as per AS/NZS 4777.1:2024 Section 6",
	"Battery storage installed to AS/NZS 5139:2019 and manufacturer's installation manual",
	"Cabling, termination and installation comply with AS/NZS 3000",
	"Group and clearly label alternative supply circuits",
	"RCDs are Type A or as specified by the manufacturer",
}

// InspectionItems are the section 3 checks.
var InspectionItems = []string{
	"Insulation resistance test (Pass value >1 MΩ @500V DC)",
	"Polarity Verification (L, N, E)",
	"Verification of impedance (Earth Fault Loop)",
	"Insulation resistance test of DC",
	"Polarity Verification of DC",
	"DC Voltage to Ground Verification",
}

// TestRows are the rows of the section 5 test results table.
var TestRows = []TestRow{
	{From: "Red", To: "White"},
	{From: "White", To: "Blue"},
	{From: "Blue", To: "Red"},
	{From: "Red", To: "Neutral"},
	{From: "White", To: "Neutral"},
	{From: "Blue", To: "Neutral"},
	{From: "Red", To: "Earth"},
	{From: "White", To: "Earth"},
	{From: "Blue", To: "Earth"},
	{From: "Neutral", To: "Earth", FixedInsulation: "N/A"},
	{From: "DC Positive 1", To: "DC Negative 1", FixedInsulation: "N/A"},
	{From: "DC Positive 2", To: "DC Negative 2", FixedInsulation: "N/A"},
	{From: "DC Positive 3", To: "DC Negative 3", FixedInsulation: "N/A"},
	{From: "DC Positive 1", To: "Earth"},
	{From: "DC Negative 1", To: "Earth"},
	{From: "DC Positive 2", To: "Earth"},
	{From: "DC Negative 2", To: "Earth"},
	{From: "DC Positive 3", To: "Earth"},
	{From: "DC Negative 3", To: "Earth"},
}

// TestAttrs are the editable columns of a test row.
var TestAttrs = []string{"voltage", "insulation", "comments"}

// AdditionalTests are the section 4 MEN tests, keyed addTest1 and addTest2.
var AdditionalTests = []string{
	"Test 1: Confirm MEN - Grid Supply Mode Test",
	"Test 2: Confirm MEN - Alternative Supply Mode Test",
}

var resultLabels = map[string]string{
	"acceptable": "✓ Acceptable",
	"defect":     "✕ Defect",
	"na":         "N/A",
}

var energyLabels = map[string]string{
	"pv":             "PV",
	"battery":        "Battery",
	"pv_and_battery": "PV and Battery",
}

var defectLabels = map[string]string{
	"rectified":   "Defects identified rectified / Closed out",
	"punchListed": "Punch Listed",
}

// required lists the fields an inspection record cannot be submitted
// without, in the order they are reported.
var required = []struct{ key, label string }{
	{"installationAddress", "Installation Address"},
	{"customerName", "Customer Name"},
	{"jobNumber", "Job Number"},
}
