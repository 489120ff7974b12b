package formsession

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sunterra/fieldrecord/idgen"
	"github.com/sunterra/fieldrecord/snapshot"
)

// WorkItem is one line of extra work on a variation order.
type WorkItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	// Amount is the GST-inclusive amount as typed.
	Amount string `json:"amount"`
}

// Order is the stored variation order. Dates are dd/mm/yyyy display
// strings.
type Order struct {
	JobNumber           string     `json:"jobNumber"`
	CustomerName        string     `json:"customerName"`
	InstallationAddress string     `json:"installationAddress"`
	Date                string     `json:"date"`
	WorkItems           []WorkItem `json:"workItems"`
	InstallerSignature  string     `json:"installerSignature"`
	CustomerSignature   string     `json:"customerSignature"`
	SignatureDate       string     `json:"signatureDate"`
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	o.WorkItems = slices.Clone(o.WorkItems)
	return o
}

// Total sums the work item amounts. Amounts that do not parse count as 0.
func (o Order) Total() float64 {
	var sum float64
	for _, it := range o.WorkItems {
		sum += ParseAmount(it.Amount)
	}
	return sum
}

var (
	amountJunk   = regexp.MustCompile(`[^0-9.-]`)
	amountPrefix = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)`)
)

// ParseAmount reads a typed amount such as "$1,250.50". Everything but
// digits, dots and minus signs is dropped, then the longest leading
// decimal number is taken. Unparseable input yields 0.
func ParseAmount(s string) float64 {
	num := amountPrefix.FindString(amountJunk.ReplaceAllString(s, ""))
	if num == "" {
		return 0
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

// HeaderPatch updates the order header. Nil fields are left alone.
type HeaderPatch struct {
	JobNumber           *string `json:"jobNumber,omitempty"`
	CustomerName        *string `json:"customerName,omitempty"`
	InstallationAddress *string `json:"installationAddress,omitempty"`
	Date                *string `json:"date,omitempty"`
	SignatureDate       *string `json:"signatureDate,omitempty"`
}

// ItemPatch updates one work item. Nil fields are left alone.
type ItemPatch struct {
	Description *string `json:"description,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	Amount      *string `json:"amount,omitempty"`
}

// Signer names a signature slot.
type Signer string

const (
	Installer Signer = "installer"
	Customer  Signer = "customer"
)

// VariationOrder is a live variation order. It always holds at least one
// work item.
type VariationOrder struct {
	newID idgen.Generator
	now   func() time.Time
	loc   *time.Location

	mu       sync.Mutex
	order    Order
	onChange ChangeFunc
}

// NewVariationOrder returns an empty order dated today. now and loc are
// used for the default dates; nil means time.Now and time.Local.
func NewVariationOrder(now func() time.Time, loc *time.Location) *VariationOrder {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	v := &VariationOrder{newID: idgen.WorkItem, now: now, loc: loc}
	v.order = v.empty()
	return v
}

func (v *VariationOrder) today() string {
	return snapshot.DateOf(v.now().In(v.loc)).Display()
}

func (v *VariationOrder) empty() Order {
	today := v.today()
	return Order{
		Date:          today,
		WorkItems:     []WorkItem{{ID: v.newID()}},
		SignatureDate: today,
	}
}

// OnChange registers the edit hook. Signature changes are reported as
// immediate.
func (v *VariationOrder) OnChange(fn ChangeFunc) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

func (v *VariationOrder) changed(immediate bool) {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(immediate)
	}
}

// Record returns a copy of the current order.
func (v *VariationOrder) Record() Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.order.Clone()
}

// Restore replaces the order with a stored one.
func (v *VariationOrder) Restore(o Order) {
	o = o.Clone()
	if len(o.WorkItems) == 0 {
		o.WorkItems = []WorkItem{{ID: v.newID()}}
	}
	for i := range o.WorkItems {
		if o.WorkItems[i].ID == "" {
			o.WorkItems[i].ID = v.newID()
		}
	}
	v.mu.Lock()
	v.order = o
	v.mu.Unlock()
}

// Reset starts a fresh order dated today.
func (v *VariationOrder) Reset() {
	v.mu.Lock()
	v.order = v.empty()
	v.mu.Unlock()
}

// Update applies a header patch.
func (v *VariationOrder) Update(p HeaderPatch) {
	v.mu.Lock()
	set(&v.order.JobNumber, p.JobNumber)
	set(&v.order.CustomerName, p.CustomerName)
	set(&v.order.InstallationAddress, p.InstallationAddress)
	set(&v.order.Date, p.Date)
	set(&v.order.SignatureDate, p.SignatureDate)
	v.mu.Unlock()
	v.changed(false)
}

func set(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

// AddItem appends an empty work item and returns it.
func (v *VariationOrder) AddItem() WorkItem {
	it := WorkItem{ID: v.newID()}
	v.mu.Lock()
	v.order.WorkItems = append(v.order.WorkItems, it)
	v.mu.Unlock()
	v.changed(false)
	return it
}

// UpdateItem patches the work item with the given id.
func (v *VariationOrder) UpdateItem(id string, p ItemPatch) (WorkItem, error) {
	v.mu.Lock()
	i := v.indexLocked(id)
	if i < 0 {
		v.mu.Unlock()
		return WorkItem{}, fmt.Errorf("%w: %s", ErrNoItem, id)
	}
	it := &v.order.WorkItems[i]
	set(&it.Description, p.Description)
	set(&it.Reason, p.Reason)
	set(&it.Amount, p.Amount)
	out := *it
	v.mu.Unlock()
	v.changed(false)
	return out, nil
}

// DeleteItem removes a work item. The last remaining item cannot be
// deleted.
func (v *VariationOrder) DeleteItem(id string) error {
	v.mu.Lock()
	i := v.indexLocked(id)
	switch {
	case i < 0:
		v.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoItem, id)
	case len(v.order.WorkItems) <= 1:
		v.mu.Unlock()
		return ErrLastItem
	}
	v.order.WorkItems = slices.Delete(v.order.WorkItems, i, i+1)
	v.mu.Unlock()
	v.changed(false)
	return nil
}

func (v *VariationOrder) indexLocked(id string) int {
	return slices.IndexFunc(v.order.WorkItems, func(it WorkItem) bool { return it.ID == id })
}

// SetSignature stores a signature. Empty clears it.
func (v *VariationOrder) SetSignature(who Signer, dataURI string) error {
	v.mu.Lock()
	switch who {
	case Installer:
		v.order.InstallerSignature = dataURI
	case Customer:
		v.order.CustomerSignature = dataURI
	default:
		v.mu.Unlock()
		return fmt.Errorf("%w: signer %q", ErrBadField, who)
	}
	v.mu.Unlock()
	v.changed(true)
	return nil
}

// Total sums the current work item amounts.
func (v *VariationOrder) Total() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.order.Total()
}

// Validate checks the order can be submitted: header fields, at least one
// item with description and amount, and the customer's signature.
func (v *VariationOrder) Validate() error {
	o := v.Record()
	var missing []string
	for _, f := range []struct{ val, label string }{
		{o.JobNumber, "Job Number"},
		{o.CustomerName, "Customer Name"},
		{o.InstallationAddress, "Installation Address"},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.label)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	if !slices.ContainsFunc(o.WorkItems, func(it WorkItem) bool {
		return strings.TrimSpace(it.Description) != "" && strings.TrimSpace(it.Amount) != ""
	}) {
		return &ValidationError{Reason: "Add at least one work item with description and amount"}
	}
	if o.CustomerSignature == "" {
		return &ValidationError{Reason: "Customer signature is required"}
	}
	return nil
}
