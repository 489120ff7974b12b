package formsession

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sunterra/fieldrecord/snapshot"
)

func TestInspection_Defaults(t *testing.T) {
	s := NewInspection()
	snap := s.Snapshot()
	if got := snap.String("signoff_companyName"); got != "Sunterra" {
		t.Errorf("companyName = %q, want Sunterra", got)
	}
	for _, row := range []int{9, 10, 11, 12} {
		if got := snap.String(testKey(row, "insulation")); got != "N/A" {
			t.Errorf("row %d insulation = %q, want N/A", row, got)
		}
	}
	if got := snap.String(testKey(0, "insulation")); got != "" {
		t.Errorf("row 0 insulation = %q, want empty", got)
	}
	if got := snap.String(SignatureKey); got != "" {
		t.Errorf("signature = %q", got)
	}
}

func TestInspection_SetTestResult(t *testing.T) {
	s := NewInspection()
	calls := 0
	s.OnChange(func(immediate bool) {
		if immediate {
			t.Error("inspection edits are never immediate")
		}
		calls++
	})

	if err := s.SetTestResult(0, "voltage", "243.8"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTestResult(9, "insulation", "500"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("fixed insulation: got %v, want ErrReadOnly", err)
	}
	if err := s.SetTestResult(19, "voltage", "1"); !errors.Is(err, ErrBadField) {
		t.Errorf("row out of range: got %v", err)
	}
	if err := s.SetTestResult(0, "colour", "red"); !errors.Is(err, ErrBadField) {
		t.Errorf("bad attribute: got %v", err)
	}
	if calls != 1 {
		t.Errorf("OnChange calls = %d, want 1", calls)
	}
	if got := s.TestResults().String("testResult_0_voltage"); got != "243.8" {
		t.Errorf("voltage = %q", got)
	}
}

func TestInspection_SetFields(t *testing.T) {
	s := NewInspection()
	err := s.SetFields(map[string]any{
		"customerName":          "Jane",
		"visual_0_date":         "2025-09-26",
		"signoff_date":          "__DATE__2025-09-25T14:00:00.000Z",
		"energySource":          []any{"pv", "battery"},
		"testResult_3_comments": "ok",
		SignatureKey:            "data:image/png;base64,AAAA",
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if d, ok := snap.Date("visual_0_date"); !ok || d != snapshot.NewDate(2025, 9, 26) {
		t.Errorf("visual_0_date = %#v", snap["visual_0_date"])
	}
	if _, ok := snap.Date("signoff_date"); !ok {
		t.Errorf("signoff_date not a date: %#v", snap["signoff_date"])
	}
	if got := snap.Strings("energySource"); !reflect.DeepEqual(got, []string{"pv", "battery"}) {
		t.Errorf("energySource = %v", got)
	}
	if got := snap.String("testResult_3_comments"); got != "ok" {
		t.Errorf("routed test value = %q", got)
	}
	if _, ok := s.Fields()["testResult_3_comments"]; ok {
		t.Error("test value leaked into generic fields")
	}
	if got := s.Signature().String(SignatureKey); got == "" {
		t.Error("signature not routed")
	}

	// Rejected patches leave the session untouched.
	err = s.SetFields(map[string]any{"customerName": "Bob", "signoff_date": "26/09/2025"})
	if !errors.Is(err, ErrBadField) {
		t.Fatalf("bad date: got %v", err)
	}
	if got := s.Customer(); got != "Jane" {
		t.Errorf("partial patch applied: customer = %q", got)
	}

	if err := s.Set("customerName", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Fields()["customerName"]; ok {
		t.Error("nil did not remove the field")
	}
}

func TestInspection_RestoreRoundTrip(t *testing.T) {
	src := NewInspection()
	_ = src.SetFields(map[string]any{"jobNumber": "J-1", "visual_2_date": "2025-01-31", "visual_2_result": []any{"acceptable"}})
	_ = src.SetTestResult(4, "insulation", "500")
	src.SetSignature("data:image/png;base64,AAAA")

	data, err := snapshot.Encode(src.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := snapshot.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	dst := NewInspection()
	dst.Restore(decoded)
	if !reflect.DeepEqual(dst.Snapshot(), src.Snapshot()) {
		t.Fatalf("restore mismatch:\n got %v\nwant %v", dst.Snapshot(), src.Snapshot())
	}
	if got := dst.TestResults().String("testResult_4_insulation"); got != "500" {
		t.Errorf("test value = %q", got)
	}
}

func TestInspection_ResetRestoresDefaults(t *testing.T) {
	s := NewInspection()
	_ = s.Set("customerName", "Jane")
	_ = s.Set("signoff_companyName", "Other")
	s.SetSignature("data:image/png;base64,AAAA")

	s.Reset()
	if !reflect.DeepEqual(s.Snapshot(), NewInspection().Snapshot()) {
		t.Fatalf("Reset left %v", s.Snapshot())
	}
}

func TestInspection_Validate(t *testing.T) {
	s := NewInspection()
	err := s.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v", err)
	}
	want := "Please fill in: Installation Address, Customer Name, Job Number"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}

	_ = s.SetFields(map[string]any{"installationAddress": "1 Main St", "customerName": "  ", "jobNumber": "7"})
	if err := s.Validate(); err == nil || err.Error() != "Please fill in: Customer Name" {
		t.Errorf("got %v", err)
	}
	_ = s.Set("customerName", "Jane")
	if err := s.Validate(); err != nil {
		t.Errorf("complete record: %v", err)
	}
}

func TestInspection_ApplyToAll(t *testing.T) {
	s := NewInspection()
	d := snapshot.NewDate(2025, 9, 26)
	n, err := s.ApplyToAll("inspect", d, " JD ")
	if err != nil || n != len(InspectionItems) {
		t.Fatalf("n=%d err=%v", n, err)
	}
	f := s.Fields()
	for i := range InspectionItems {
		if got, _ := f.Date("inspect_" + string(rune('0'+i)) + "_date"); got != d {
			t.Errorf("item %d date = %v", i, got)
		}
		if got := f.String("inspect_" + string(rune('0'+i)) + "_verifiedBy"); got != "JD" {
			t.Errorf("item %d verifiedBy = %q", i, got)
		}
	}
	if _, err := s.ApplyToAll("signoff", d, ""); !errors.Is(err, ErrBadField) {
		t.Errorf("unknown section: %v", err)
	}
}

func TestInspection_Document(t *testing.T) {
	s := NewInspection()
	_ = s.SetFields(map[string]any{
		"customerName":         "Jane",
		"visual_0_result":      []any{"defect"},
		"energySource":         []any{"pv_and_battery"},
		"defects":              "punchListed",
		"signoff_nameCapitals": "jane doe",
	})
	s.SetSignature("data:image/png;base64,AAAA")

	doc := s.Document(time.Date(2025, 9, 26, 9, 0, 0, 0, time.UTC))
	if len(doc.Sections) != 9 {
		t.Fatalf("sections = %d", len(doc.Sections))
	}
	if got := doc.Sections[1].Table.Rows[0][2]; got != "✕ Defect" {
		t.Errorf("visual result = %q", got)
	}
	if got := doc.Sections[0].Fields[5].Value; got != "PV and Battery" {
		t.Errorf("energy = %q", got)
	}
	if got := doc.Sections[4].Table.Rows[9][3]; got != "N/A" {
		t.Errorf("fixed insulation = %q", got)
	}
	if got := doc.Sections[7].Text; got != "Punch Listed" {
		t.Errorf("defects = %q", got)
	}
	sig := doc.Sections[8].Signatures[0]
	if sig.Name != "JANE DOE" || sig.Image == "" || sig.Date != blank {
		t.Errorf("signature = %+v", sig)
	}
	if got := doc.Meta[1].Value; got != "26/09/2025" {
		t.Errorf("printed = %q", got)
	}
}

func fixedNow() time.Time { return time.Date(2025, 9, 26, 22, 30, 0, 0, time.UTC) }

func TestVariationOrder_New(t *testing.T) {
	loc := time.FixedZone("AEST", 10*3600)
	v := NewVariationOrder(fixedNow, loc)
	o := v.Record()
	if o.Date != "27/09/2025" || o.SignatureDate != "27/09/2025" {
		t.Errorf("dates = %q %q, want local 27/09/2025", o.Date, o.SignatureDate)
	}
	if len(o.WorkItems) != 1 || !strings.HasPrefix(o.WorkItems[0].ID, "wi_") {
		t.Errorf("work items = %+v", o.WorkItems)
	}
}

func TestVariationOrder_Items(t *testing.T) {
	v := NewVariationOrder(fixedNow, time.UTC)
	first := v.Record().WorkItems[0]

	if err := v.DeleteItem(first.ID); !errors.Is(err, ErrLastItem) {
		t.Fatalf("delete last: got %v", err)
	}
	second := v.AddItem()
	if second.ID == first.ID {
		t.Fatal("duplicate item id")
	}
	amount := "$1,250.50"
	if _, err := v.UpdateItem(second.ID, ItemPatch{Amount: &amount}); err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteItem(first.ID); err != nil {
		t.Fatal(err)
	}
	items := v.Record().WorkItems
	if len(items) != 1 || items[0].ID != second.ID || items[0].Amount != amount {
		t.Fatalf("items = %+v", items)
	}
	if err := v.DeleteItem("wi_missing"); !errors.Is(err, ErrNoItem) {
		t.Errorf("unknown id: %v", err)
	}
	if _, err := v.UpdateItem("wi_missing", ItemPatch{}); !errors.Is(err, ErrNoItem) {
		t.Errorf("unknown id: %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1250", 1250},
		{"$1,250.50", 1250.5},
		{" 99.5 AUD", 99.5},
		{"-40.25", -40.25},
		{"1.2.3", 1.2},
		{".5", 0.5},
		{"abc", 0},
		{"", 0},
		{"--5", 0},
		{"-", 0},
	}
	for _, tt := range tests {
		if got := ParseAmount(tt.in); got != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOrder_Total(t *testing.T) {
	o := Order{WorkItems: []WorkItem{{Amount: "$1,000"}, {Amount: "250.50"}, {Amount: "n/a"}, {Amount: ""}}}
	if got := o.Total(); got != 1250.5 {
		t.Errorf("Total = %v, want 1250.5", got)
	}
}

func TestVariationOrder_Validate(t *testing.T) {
	v := NewVariationOrder(fixedNow, time.UTC)
	if err := v.Validate(); err == nil || err.Error() != "Please fill in: Job Number, Customer Name, Installation Address" {
		t.Fatalf("got %v", err)
	}

	job, name, addr := "J-7", "Jane", "1 Main St"
	v.Update(HeaderPatch{JobNumber: &job, CustomerName: &name, InstallationAddress: &addr})
	if err := v.Validate(); err == nil || err.Error() != "Add at least one work item with description and amount" {
		t.Fatalf("got %v", err)
	}

	id := v.Record().WorkItems[0].ID
	desc, amount := "Extra isolator", "180"
	_, _ = v.UpdateItem(id, ItemPatch{Description: &desc, Amount: &amount})
	if err := v.Validate(); err == nil || err.Error() != "Customer signature is required" {
		t.Fatalf("got %v", err)
	}

	if err := v.SetSignature(Customer, "data:image/png;base64,AAAA"); err != nil {
		t.Fatal(err)
	}
	if err := v.Validate(); err != nil {
		t.Fatalf("complete order: %v", err)
	}
}

func TestVariationOrder_SignatureIsImmediate(t *testing.T) {
	v := NewVariationOrder(fixedNow, time.UTC)
	var got []bool
	v.OnChange(func(immediate bool) { got = append(got, immediate) })

	name := "Jane"
	v.Update(HeaderPatch{CustomerName: &name})
	_ = v.SetSignature(Installer, "data:image/png;base64,AAAA")
	if err := v.SetSignature("witness", "x"); !errors.Is(err, ErrBadField) {
		t.Errorf("unknown signer: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{false, true}) {
		t.Errorf("hook calls = %v, want [false true]", got)
	}
}

func TestVariationOrder_RestoreEnsuresItem(t *testing.T) {
	v := NewVariationOrder(fixedNow, time.UTC)
	v.Restore(Order{JobNumber: "J-1", WorkItems: []WorkItem{{Description: "no id"}}})
	items := v.Record().WorkItems
	if len(items) != 1 || items[0].ID == "" || items[0].Description != "no id" {
		t.Errorf("items = %+v", items)
	}
	v.Restore(Order{})
	if len(v.Record().WorkItems) != 1 {
		t.Error("restored order has no work item")
	}
}

func TestVariationOrder_Document(t *testing.T) {
	v := NewVariationOrder(fixedNow, time.UTC)
	v.Restore(Order{
		CustomerName: "Jane",
		WorkItems: []WorkItem{
			{ID: "a", Description: "Isolator", Amount: "1000"},
			{ID: "b", Description: "Conduit", Amount: "250.5"},
		},
		CustomerSignature: "data:image/png;base64,AAAA",
		SignatureDate:     "26/09/2025",
	})
	doc := v.Document()
	table := doc.Sections[1].Table
	if len(table.Rows) != 2 || table.Rows[1][3] != "$250.50" {
		t.Errorf("rows = %v", table.Rows)
	}
	if got := table.Footer[3]; got != "$1,250.50" {
		t.Errorf("total = %q", got)
	}
	sigs := doc.Sections[2].Signatures
	if sigs[1].Name != "Jane" || sigs[1].Date != "26/09/2025" {
		t.Errorf("customer signature = %+v", sigs[1])
	}
}
