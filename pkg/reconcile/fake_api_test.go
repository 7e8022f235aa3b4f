package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// fakeAPI is an in-memory billing platform recording every call as
// "Operation:key".
type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	nextID int

	products map[string]*billing.Product  // by SKU
	plans    map[string]*billing.RatePlan // by product id
	prices   map[string]*billing.Price    // by plan id

	createdPrices []billing.PricePayload
	signups       []billing.SignupRequest
	orders        []billing.OrderRequest

	// fail maps "Operation" or "Operation:key" to the error to return.
	fail map[string]error

	lookupDelay time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		products: map[string]*billing.Product{},
		plans:    map[string]*billing.RatePlan{},
		prices:   map[string]*billing.Price{},
		fail:     map[string]error{},
	}
}

func (f *fakeAPI) record(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+key)
	if err, ok := f.fail[op+":"+key]; ok {
		return err
	}
	return f.fail[op]
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.createdPrices = nil
}

// seedProduct installs a remote product with a plan and, if priceID is set, a price.
func (f *fakeAPI) seedProduct(sku, name, description, planID, priceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	productID := "P-" + sku
	f.products[sku] = &billing.Product{ID: productID, Name: name, Description: description, SKU: sku}
	if planID != "" {
		f.plans[productID] = &billing.RatePlan{ID: planID, Name: "Pro", ProductID: productID}
		if priceID != "" {
			f.prices[planID] = &billing.Price{ID: priceID, ProductRatePlanID: planID}
		}
	}
}

func (f *fakeAPI) CreateProduct(_ context.Context, p billing.ProductPayload) (*billing.CrudResponse, error) {
	if err := f.record("CreateProduct", p.SKU); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("P")
	f.products[p.SKU] = &billing.Product{ID: id, Name: p.Name, Description: p.Description, SKU: p.SKU}
	return &billing.CrudResponse{ID: id, Success: true}, nil
}

func (f *fakeAPI) UpdateProductByID(_ context.Context, id string, p billing.ProductPayload) (*billing.CrudResponse, error) {
	if err := f.record("UpdateProductByID", p.SKU); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.SKU] = &billing.Product{ID: id, Name: p.Name, Description: p.Description, SKU: p.SKU}
	return &billing.CrudResponse{ID: id, Success: true}, nil
}

func (f *fakeAPI) GetProductBySKU(_ context.Context, sku string) (*billing.Product, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.lookupDelay > 0 {
		time.Sleep(f.lookupDelay)
	}

	if err := f.record("GetProductBySKU", sku); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[sku]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAPI) CreatePlan(_ context.Context, p billing.RatePlanPayload) (*billing.CrudResponse, error) {
	if err := f.record("CreatePlan", p.Name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("RP")
	f.plans[p.ProductID] = &billing.RatePlan{ID: id, Name: p.Name, ProductID: p.ProductID}
	return &billing.CrudResponse{ID: id, Success: true}, nil
}

func (f *fakeAPI) GetPlanByProductID(_ context.Context, productID string) (*billing.RatePlan, error) {
	if err := f.record("GetPlanByProductID", productID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[productID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAPI) CreatePrice(_ context.Context, p billing.PricePayload) (*billing.CrudResponse, error) {
	if err := f.record("CreatePrice", p.ProductRatePlanID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("C")
	f.prices[p.ProductRatePlanID] = &billing.Price{ID: id, Name: p.Name, ProductRatePlanID: p.ProductRatePlanID}
	f.createdPrices = append(f.createdPrices, p)
	return &billing.CrudResponse{ID: id, Success: true}, nil
}

func (f *fakeAPI) UpdatePrice(_ context.Context, id string, p billing.PricePayload) (*billing.CrudResponse, error) {
	if err := f.record("UpdatePrice", id); err != nil {
		return nil, err
	}
	return &billing.CrudResponse{ID: id, Success: true}, nil
}

func (f *fakeAPI) DeletePrice(_ context.Context, id string) error {
	if err := f.record("DeletePrice", id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for planID, p := range f.prices {
		if p.ID == id {
			delete(f.prices, planID)
		}
	}
	return nil
}

func (f *fakeAPI) GetPriceByPlanID(_ context.Context, planID string) (*billing.Price, error) {
	if err := f.record("GetPriceByPlanID", planID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[planID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAPI) CreateAccount(_ context.Context, s billing.SignupRequest) (*billing.SignupResponse, error) {
	if err := f.record("CreateAccount", s.AccountData.AccountNumber); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signups = append(f.signups, s)
	return &billing.SignupResponse{
		Success:       true,
		AccountID:     f.id("A"),
		AccountNumber: s.AccountData.AccountNumber,
	}, nil
}

func (f *fakeAPI) CreateOrder(_ context.Context, o billing.OrderRequest) (*billing.OrderResponse, error) {
	if err := f.record("CreateOrder", o.OrderNumber); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return &billing.OrderResponse{
		Success:       true,
		OrderNumber:   o.OrderNumber,
		AccountNumber: o.ExistingAccountNumber,
		Status:        "Completed",
	}, nil
}

var _ billing.API = (*fakeAPI)(nil)
