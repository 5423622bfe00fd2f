package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/coursevault/coursevault/api/web"
	"github.com/gorilla/mux"
	"github.com/plutov/paypal/v4"
	mock "github.com/stripe/stripe-mock/param"
)

// stripeSession is what the mock backend remembers about one created
// checkout session. The service reads it back through the GET endpoint to
// confirm the payment.
type stripeSession struct {
	CourseID string
	Amount   int64
	Email    string
}

type mockStripe struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*stripeSession

	// ExpectedPrice, when non-zero, rejects session creation on any
	// other unit amount.
	ExpectedPrice int64
}

func newMockStripe() *mockStripe {
	return &mockStripe{sessions: make(map[string]*stripeSession)}
}

func (m *mockStripe) handle() http.Handler {
	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, _ := mock.ParseParams(r)

		lines, ok := params["line_items"].(map[string]any)
		if !ok || len(lines) != 1 {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		it := lines["0"].(map[string]any)
		if it["quantity"] != "1" {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		pd := it["price_data"].(map[string]any)
		amount, err := strconv.ParseInt(pd["unit_amount"].(string), 10, 64)
		if err != nil {
			web.Respond(context.Background(), w, err, 400)
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.ExpectedPrice != 0 && amount != m.ExpectedPrice {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		s := &stripeSession{Amount: amount}
		if md, ok := params["metadata"].(map[string]any); ok {
			s.CourseID, _ = md["course_id"].(string)
		}
		s.Email, _ = params["customer_email"].(string)

		m.seq++
		id := fmt.Sprintf("cs_test_%d", m.seq)
		m.sessions[id] = s

		out := map[string]any{"id": id, "url": "https://stripe.test/pay/" + id}
		web.Respond(context.Background(), w, out, 201)
	})

	get := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		id := mux.Vars(r)["id"]
		s, ok := m.sessions[id]
		if !ok {
			web.Respond(context.Background(), w, nil, 404)
			return
		}

		out := map[string]any{
			"id":               id,
			"object":           "checkout.session",
			"mode":             "payment",
			"payment_status":   "paid",
			"amount_total":     s.Amount,
			"customer_email":   s.Email,
			"customer_details": map[string]any{"email": s.Email},
			"metadata":         map[string]any{"course_id": s.CourseID},
		}
		web.Respond(context.Background(), w, out, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", create).Methods("POST")
	r.Handle("/v1/checkout/sessions/{id}", get).Methods("GET")
	return r
}

// paypalOrder tracks one order through the mock's approve/capture cycle.
type paypalOrder struct {
	Status   string
	CourseID string
	Value    string
}

type mockPaypal struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*paypalOrder

	// BuyerEmail is reported as the payer on captured orders.
	BuyerEmail string

	// ExpectedValue, when set, rejects order creation on any other
	// amount string.
	ExpectedValue string
}

func newMockPaypal() *mockPaypal {
	return &mockPaypal{orders: make(map[string]*paypalOrder)}
}

func (m *mockPaypal) handle() http.Handler {
	token := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		web.Respond(context.Background(), w, out, 200)
	})

	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Units []paypal.PurchaseUnitRequest `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		if len(req.Units) != 1 || req.Units[0].Amount == nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}
		unit := req.Units[0]

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.ExpectedValue != "" && unit.Amount.Value != m.ExpectedValue {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		m.seq++
		id := fmt.Sprintf("paypal-%d", m.seq)

		// The buyer's approval happens off-band on the provider's UI;
		// the mock considers every order instantly approved.
		m.orders[id] = &paypalOrder{
			Status:   "APPROVED",
			CourseID: unit.ReferenceID,
			Value:    unit.Amount.Value,
		}

		web.Respond(context.Background(), w, paypal.Order{ID: id, Status: "CREATED"}, 201)
	})

	get := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		id := mux.Vars(r)["id"]
		o, ok := m.orders[id]
		if !ok {
			web.Respond(context.Background(), w, nil, 404)
			return
		}

		web.Respond(context.Background(), w, m.order(id, o), 200)
	})

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		id := mux.Vars(r)["id"]
		o, ok := m.orders[id]
		if !ok {
			web.Respond(context.Background(), w, nil, 404)
			return
		}

		o.Status = "COMPLETED"
		web.Respond(context.Background(), w, map[string]any{"id": id, "status": o.Status}, 201)
	})

	r := mux.NewRouter()
	r.Handle("/v1/oauth2/token", token).Methods("POST")
	r.Handle("/v2/checkout/orders", create).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}", get).Methods("GET")
	r.Handle("/v2/checkout/orders/{id}/capture", capture).Methods("POST")
	return r
}

func (m *mockPaypal) order(id string, o *paypalOrder) paypal.Order {
	ord := paypal.Order{
		ID:     id,
		Status: o.Status,
		PurchaseUnits: []paypal.PurchaseUnit{{
			ReferenceID: o.CourseID,
			Amount:      &paypal.PurchaseUnitAmount{Currency: "USD", Value: o.Value},
		}},
	}

	if o.Status == "COMPLETED" {
		ord.Payer = &paypal.PayerWithNameAndPhone{EmailAddress: m.BuyerEmail}
	}
	return ord
}
