package formsession

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sunterra/fieldrecord/render"
	"github.com/sunterra/fieldrecord/snapshot"
)

const blank = "—"

func str(v snapshot.Value) string {
	switch x := v.(type) {
	case nil:
		return blank
	case string:
		if x == "" {
			return blank
		}
		return x
	case snapshot.Date:
		return dateStr(x)
	case []string:
		if len(x) == 0 {
			return blank
		}
		return strings.Join(x, ", ")
	case bool:
		return render.Checkbox(x)
	}
	return fmt.Sprint(v)
}

func dateStr(v snapshot.Value) string {
	if d, ok := v.(snapshot.Date); ok && !d.IsZero() {
		return d.Display()
	}
	return blank
}

// first returns the single selection of a selector field, which is stored
// either as a one-element list or as a plain string.
func first(v snapshot.Value) string {
	switch x := v.(type) {
	case []string:
		if len(x) > 0 {
			return x[0]
		}
	case string:
		return x
	}
	return ""
}

func labelled(v snapshot.Value, labels map[string]string) string {
	k := first(v)
	if k == "" {
		return blank
	}
	if l, ok := labels[k]; ok {
		return l
	}
	return k
}

func energyStr(v snapshot.Value) string {
	var keys []string
	switch x := v.(type) {
	case []string:
		keys = x
	case string:
		if x != "" {
			keys = []string{x}
		}
	}
	if len(keys) == 0 {
		return blank
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		if l, ok := energyLabels[k]; ok {
			out[i] = l
		} else {
			out[i] = k
		}
	}
	return strings.Join(out, ", ")
}

func checklist(snap snapshot.Snapshot, prefix string, items []string) *render.Table {
	t := &render.Table{Columns: []string{"#", "Item", "Result", "Date", "Verified By"}}
	for i, item := range items {
		key := func(attr string) string { return prefix + "_" + strconv.Itoa(i) + "_" + attr }
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(i + 1),
			item,
			labelled(snap[key("result")], resultLabels),
			dateStr(snap[key("date")]),
			str(snap[key("verifiedBy")]),
		})
	}
	return t
}

// Document builds the printable inspection and test record. printed is the
// date shown in the header.
func (s *Inspection) Document(printed time.Time) render.Document {
	snap := s.Snapshot()
	f := func(label, key string) render.Field { return render.Field{Label: label, Value: str(snap[key])} }

	additional := &render.Table{Columns: []string{"Test", "A", "N", "N-E", "Result", "Date", "Verified By"}}
	for i, name := range AdditionalTests {
		p := "addTest" + strconv.Itoa(i+1) + "_"
		additional.Rows = append(additional.Rows, []string{
			name,
			str(snap[p+"ampA"]),
			str(snap[p+"ampN"]),
			str(snap[p+"ampNE"]),
			labelled(snap[p+"result"], resultLabels),
			dateStr(snap[p+"date"]),
			str(snap[p+"verifiedBy"]),
		})
	}

	results := &render.Table{Columns: []string{"From", "To", "Voltage", "Insulation (MΩ)", "Comments"}}
	for i, row := range TestRows {
		results.Rows = append(results.Rows, []string{
			row.From,
			row.To,
			str(snap[testKey(i, "voltage")]),
			str(snap[testKey(i, "insulation")]),
			str(snap[testKey(i, "comments")]),
		})
	}

	sigDate := dateStr(snap["signoff_date"])
	return render.Document{
		Title:    "Inspection and Test Record",
		Subtitle: "Alternative supply installation to AS/NZS 4777.1:2024",
		Meta: []render.Field{
			f("Job Number", "jobNumber"),
			{Label: "Printed", Value: snapshot.DateOf(printed).Display()},
		},
		Sections: []render.Section{
			{Title: "1. Project Information", Fields: []render.Field{
				f("Installation Address", "installationAddress"),
				f("Customer Name", "customerName"),
				f("Job Number", "jobNumber"),
				f("Inverter Model", "inverterModel"),
				f("Battery Model", "batteryModel"),
				{Label: "Energy Source", Value: energyStr(snap["energySource"])},
				f("ITR Approved By", "itrApprovedBy"),
			}},
			{Title: "2. Visual Inspection", Table: checklist(snap, "visual", VisualItems)},
			{Title: "3. Inspection and Test", Table: checklist(snap, "inspect", InspectionItems)},
			{
				Title: "4. Additional Testing for Alternative Supply",
				Note:  "There shall be no current measured through the MEN connection.",
				Table: additional,
			},
			{Title: "5. Test Results", Table: results},
			{Title: "6. Inspection and Test Equipment", Fields: []render.Field{
				{Label: "No.", Value: "1"},
				f("Make / Model", "equipment_makeModel"),
				f("Serial No.", "equipment_serialNo"),
				f("Calibration Cert. No.", "equipment_calCertNo"),
				{Label: "Cal. Expiry Date", Value: dateStr(snap["equipment_calExpiry"])},
			}},
			{Title: "7. Comments", Text: str(snap["comments"])},
			{Title: "8. Defects", Text: labelled(snap["defects"], defectLabels)},
			{
				Title: "9. Sign-off",
				Fields: []render.Field{
					f("Tested By", "signoff_testedBy"),
					f("Company Name", "signoff_companyName"),
					f("Elec. Licence No.", "signoff_licenceNo"),
					f("Name (CAPITALS)", "signoff_nameCapitals"),
				},
				Signatures: []render.Signature{{
					Label: "Signature",
					Name:  strings.ToUpper(snap.String("signoff_nameCapitals")),
					Image: snap.String(SignatureKey),
					Date:  sigDate,
				}},
			},
		},
		Footer: "Sunterra - Inspection and Test Record",
	}
}

// Document builds the printable variation order.
func (v *VariationOrder) Document() render.Document {
	o := v.Record()
	orBlank := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return blank
		}
		return s
	}

	items := &render.Table{Columns: []string{"#", "Description", "Reason", "Amount (inc. GST)"}}
	for i, it := range o.WorkItems {
		amount := blank
		if strings.TrimSpace(it.Amount) != "" {
			amount = render.FormatAUD(ParseAmount(it.Amount))
		}
		items.Rows = append(items.Rows, []string{
			strconv.Itoa(i + 1), orBlank(it.Description), orBlank(it.Reason), amount,
		})
	}
	items.Footer = []string{"", "", "Total", render.FormatAUD(o.Total())}

	return render.Document{
		Title:    "Variation Order",
		Subtitle: "Additional work outside the original quotation",
		Meta: []render.Field{
			{Label: "Job Number", Value: orBlank(o.JobNumber)},
			{Label: "Date", Value: orBlank(o.Date)},
		},
		Sections: []render.Section{
			{Title: "Project Details", Fields: []render.Field{
				{Label: "Job Number", Value: orBlank(o.JobNumber)},
				{Label: "Customer Name", Value: orBlank(o.CustomerName)},
				{Label: "Installation Address", Value: orBlank(o.InstallationAddress)},
				{Label: "Date", Value: orBlank(o.Date)},
			}},
			{Title: "Extra Work Items", Table: items},
			{
				Title: "Authorisation",
				Note:  "The customer approves the additional work and amounts listed above.",
				Signatures: []render.Signature{
					{Label: "Installer", Image: o.InstallerSignature, Date: o.SignatureDate},
					{Label: "Customer", Name: o.CustomerName, Image: o.CustomerSignature, Date: o.SignatureDate},
				},
			},
		},
		Footer: "Sunterra - Variation Order",
	}
}
