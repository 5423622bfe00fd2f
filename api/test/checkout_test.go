package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coursevault/coursevault/api/background"
	"github.com/coursevault/coursevault/core/checkout"
	"github.com/coursevault/coursevault/core/entitlement"
	"github.com/coursevault/coursevault/core/user"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

type checkoutTest struct {
	*TestEnv
}

func TestCheckout(t *testing.T) {
	env, err := NewTestEnv(t, "checkout_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ct := &courseTest{env}
	xt := &checkoutTest{env}

	stripeCourse := ct.createCourseOK(t, 4999)
	ct.proxyUploadOK(t, stripeCourse.ID, []byte("stripe-archive"))

	paypalCourse := ct.createCourseOK(t, 2999)
	ct.proxyUploadOK(t, paypalCourse.ID, []byte("paypal-archive"))

	xt.testGuestStripe(t, stripeCourse.ID, stripeCourse.Name)
	xt.testPaypalSignedIn(t, paypalCourse.ID)

	ct.listOwnedOK(t, xt.UserEmail, xt.UserPass, []string{paypalCourse.ID})
}

// testGuestStripe walks a guest buyer through the stripe flow: checkout,
// webhook confirmation, provisioned account, mailed credential, download.
// The webhook is then redelivered to prove the whole pipeline is idempotent.
func (xt *checkoutTest) testGuestStripe(t *testing.T, courseID string, courseName string) {
	const guest = "guest@example.com"

	xt.Stripe.ExpectedPrice = 4999

	body := fmt.Sprintf(`{"courseId":%q,"email":%q}`, courseID, guest)
	r, err := http.NewRequest(http.MethodPost, xt.URL+"/checkout/stripe", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := xt.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't start stripe checkout: status code %s", w.Status)
	}

	urlBytes, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatal(err)
	}

	var payURL string
	if err := json.Unmarshal(urlBytes, &payURL); err != nil {
		t.Fatal(err)
	}
	sessionID := path.Base(payURL)

	signed := xt.signedCompletionEvent(t, sessionID)

	xt.deliverWebhook(t, signed)

	if n := xt.entitlementCount(t, courseID); n != 1 {
		t.Fatalf("expected 1 entitlement after confirmation, got %d", n)
	}

	mails := xt.Mail.waitFor(1, 5*time.Second)
	if len(mails) != 1 {
		t.Fatalf("expected 1 purchase email, got %d", len(mails))
	}

	m := mails[0]
	if m.To != guest || m.Course != courseName || m.Amount != 4999 {
		t.Fatalf("wrong purchase email: %+v", m)
	}
	if m.Password == "" {
		t.Fatal("a provisioned guest must be mailed a one-time password")
	}

	// Redelivery: same signed payload, same outcome, no new rows and no
	// second account or email.
	xt.deliverWebhook(t, signed)

	if n := xt.entitlementCount(t, courseID); n != 1 {
		t.Fatalf("redelivered webhook duplicated the entitlement: %d rows", n)
	}
	if n := xt.accountCount(t, guest); n != 1 {
		t.Fatalf("redelivered webhook duplicated the account: %d rows", n)
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(xt.Mail.mails()); n != 1 {
		t.Fatalf("redelivered webhook sent another email: %d total", n)
	}

	// The mailed credential signs in and unlocks the download.
	if err := Login(xt.Server, guest, m.Password); err != nil {
		t.Fatal(err)
	}
	defer Logout(xt.Server)

	w, err = xt.Client().Get(xt.URL + "/courses/" + courseID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("the buyer can't fetch a download link: status code %s", w.Status)
	}
}

// testPaypalSignedIn buys a course with an existing signed-in account. No
// account is provisioned and the email carries no credential. The capture is
// replayed to prove it records a single purchase.
func (xt *checkoutTest) testPaypalSignedIn(t *testing.T, courseID string) {
	xt.Paypal.BuyerEmail = xt.UserEmail
	xt.Paypal.ExpectedValue = "29.99"

	if err := Login(xt.Server, xt.UserEmail, xt.UserPass); err != nil {
		t.Fatal(err)
	}
	defer Logout(xt.Server)

	body := fmt.Sprintf(`{"courseId":%q}`, courseID)
	r, err := http.NewRequest(http.MethodPost, xt.URL+"/checkout/paypal", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := xt.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't create paypal order: status code %s", w.Status)
	}

	var ord paypal.Order
	if err := json.NewDecoder(w.Body).Decode(&ord); err != nil {
		t.Fatalf("cannot unmarshal paypal order: %v", err)
	}

	capture := func() {
		r, err := http.NewRequest(http.MethodPost, xt.URL+"/checkout/paypal/"+ord.ID+"/capture", nil)
		if err != nil {
			t.Fatal(err)
		}

		w, err := xt.Client().Do(r)
		if err != nil {
			t.Fatal(err)
		}
		defer w.Body.Close()

		if w.StatusCode != http.StatusNoContent {
			t.Fatalf("can't capture paypal order: status code %s", w.Status)
		}
	}

	capture()
	capture()

	if n := xt.entitlementCount(t, courseID); n != 1 {
		t.Fatalf("expected 1 entitlement after capture, got %d", n)
	}

	mails := xt.Mail.waitFor(2, 5*time.Second)
	last := mails[len(mails)-1]
	if last.To != xt.UserEmail {
		t.Fatalf("purchase email went to %s", last.To)
	}
	if last.Password != "" {
		t.Fatal("existing accounts must not be mailed a generated password")
	}

	// The purchase shows up in the buyer's history.
	hw, err := xt.Client().Get(xt.URL + "/entitlements")
	if err != nil {
		t.Fatal(err)
	}
	defer hw.Body.Close()

	if hw.StatusCode != http.StatusOK {
		t.Fatalf("can't list entitlements: status code %s", hw.Status)
	}

	var es []entitlement.Entitlement
	if err := json.NewDecoder(hw.Body).Decode(&es); err != nil {
		t.Fatalf("cannot unmarshal entitlements: %v", err)
	}

	if len(es) != 1 || es[0].CourseID != courseID || es[0].Status != entitlement.Completed {
		t.Fatalf("unexpected purchase history: %+v", es)
	}
}

// TestGuestProvisioning exercises the provisioner directly: same email in,
// same account out, with the plaintext credential surfacing only once.
func TestGuestProvisioning(t *testing.T) {
	env, err := NewTestEnv(t, "provision_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ctx := context.Background()

	first, err := user.Provision(ctx, env.DB, "New.Buyer@Example.com", "")
	if err != nil {
		t.Fatalf("provisioning: %v", err)
	}

	if !first.Created || first.Password == "" {
		t.Fatalf("first provisioning must create an account with a credential: %+v", first)
	}
	if first.User.Email != "new.buyer@example.com" {
		t.Fatalf("email was not normalized: %s", first.User.Email)
	}
	if first.User.Name != "new.buyer" {
		t.Fatalf("name was not derived from the email: %s", first.User.Name)
	}

	second, err := user.Provision(ctx, env.DB, "new.buyer@example.com", "")
	if err != nil {
		t.Fatalf("re-provisioning: %v", err)
	}

	if second.Created || second.Password != "" {
		t.Fatalf("re-provisioning must return the existing account silently: %+v", second)
	}
	if second.User.ID != first.User.ID {
		t.Fatalf("re-provisioning returned a different account: %s != %s", second.User.ID, first.User.ID)
	}

	// Providers sometimes report no payer email at all. The provisioner
	// must refuse these instead of manufacturing a broken account.
	for _, bad := range []string{"", "   ", "not-an-email", "@example.com"} {
		if _, err := user.Provision(ctx, env.DB, bad, ""); err == nil {
			t.Fatalf("provisioning %q must fail", bad)
		}
	}
}

type staticVerifier struct {
	ver checkout.Verification
}

func (v *staticVerifier) VerifySession(ctx context.Context, paymentID string) (checkout.Verification, error) {
	return v.ver, nil
}

// TestConfirmWithoutPayerEmail covers a paid session whose payer email is
// missing: the confirmation must fail without writing anything, so a later
// redelivery with the email filled in can still succeed.
func TestConfirmWithoutPayerEmail(t *testing.T) {
	env, err := NewTestEnv(t, "confirm_noemail_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ct := &courseTest{env}
	c := ct.createCourseOK(t, 4999)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cf := &checkout.Confirmer{
		DB:       env.DB,
		Verifier: &staticVerifier{checkout.Verification{Paid: true, Amount: 4999, CourseID: c.ID}},
		Mail:     env.Mail,
		BG:       background.New(log),
		Log:      log,
	}

	_, err = cf.Confirm(context.Background(), "pay-noemail")
	if !errors.Is(err, checkout.ErrNoPayerEmail) {
		t.Fatalf("expected the missing payer email error, got: %v", err)
	}

	var n int
	if err := env.DB.Get(&n, "SELECT COUNT(*) FROM entitlement WHERE payment_id = $1", "pay-noemail"); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("a failed confirmation must not record an entitlement, found %d", n)
	}
}

type barrierVerifier struct {
	gate *sync.WaitGroup
	ver  checkout.Verification
}

func (v *barrierVerifier) VerifySession(ctx context.Context, paymentID string) (checkout.Verification, error) {
	// Holds every caller at the verification step until all have arrived,
	// forcing them past the replay short-circuit together.
	v.gate.Done()
	v.gate.Wait()
	return v.ver, nil
}

// TestConcurrentConfirmDeliversCredential races two confirmations of the
// same payment. Exactly one account and one entitlement may come out of it,
// and the generated credential must reach the buyer even when the account
// creator loses the recording race.
func TestConcurrentConfirmDeliversCredential(t *testing.T) {
	env, err := NewTestEnv(t, "confirm_race_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ct := &courseTest{env}
	xt := &checkoutTest{env}
	c := ct.createCourseOK(t, 1500)

	log := logrus.New()
	log.SetOutput(io.Discard)

	gate := &sync.WaitGroup{}
	gate.Add(2)

	cf := &checkout.Confirmer{
		DB: env.DB,
		Verifier: &barrierVerifier{gate: gate, ver: checkout.Verification{
			Paid:     true,
			Amount:   1500,
			Email:    "racer@example.com",
			CourseID: c.ID,
		}},
		Mail: env.Mail,
		BG:   background.New(log),
		Log:  log,
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := cf.Confirm(context.Background(), "pay-race")
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("confirming: %v", err)
		}
	}

	if got := xt.accountCount(t, "racer@example.com"); got != 1 {
		t.Fatalf("expected one account, found %d", got)
	}
	if got := xt.entitlementCount(t, c.ID); got != 1 {
		t.Fatalf("expected one entitlement, found %d", got)
	}

	// Both confirmations may mail, but only the one that provisioned the
	// account holds the plaintext credential. That mail must show up.
	deadline := time.Now().Add(3 * time.Second)
	for {
		withPassword := 0
		for _, m := range env.Mail.mails() {
			if m.Password != "" {
				withPassword++
			}
		}
		if withPassword == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("the generated credential was never mailed, got %+v", env.Mail.mails())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestRecordIdempotency hits the ledger directly with the same payment id.
func TestRecordIdempotency(t *testing.T) {
	env, err := NewTestEnv(t, "record_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ct := &courseTest{env}
	c := ct.createCourseOK(t, 100)

	ctx := context.Background()

	u, err := user.FetchByEmail(ctx, env.DB, env.UserEmail)
	if err != nil {
		t.Fatal(err)
	}

	first, err := entitlement.Record(ctx, env.DB, u.ID, c.ID, "pay-1", 100)
	if err != nil {
		t.Fatalf("recording: %v", err)
	}
	if first.Existing {
		t.Fatal("first record must not report an existing row")
	}

	second, err := entitlement.Record(ctx, env.DB, u.ID, c.ID, "pay-1", 100)
	if err != nil {
		t.Fatalf("re-recording: %v", err)
	}
	if !second.Existing {
		t.Fatal("second record must report the existing row")
	}
	if second.Entitlement.ID != first.Entitlement.ID {
		t.Fatalf("duplicate payment produced a second entitlement: %s != %s", second.Entitlement.ID, first.Entitlement.ID)
	}
}

func (xt *checkoutTest) signedCompletionEvent(t *testing.T, sessionID string) *webhook.SignedPayload {
	t.Helper()

	obj := map[string]any{
		"id":   sessionID,
		"mode": stripe.CheckoutSessionModePayment,
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}

	evt := stripe.Event{
		APIVersion: "2022-11-15",
		Type:       "checkout.session.completed",
		Data: &stripe.EventData{
			Raw: json.RawMessage(raw),
		},
	}

	b, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   b,
		Secret:    xt.WebhookSecret,
		Timestamp: time.Now(),
	})
}

func (xt *checkoutTest) deliverWebhook(t *testing.T, signed *webhook.SignedPayload) {
	t.Helper()

	r, err := http.NewRequest(http.MethodPost, xt.URL+"/checkout/stripe/capture", bytes.NewReader(signed.Payload))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Stripe-Signature", signed.Header)

	w, err := xt.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusNoContent {
		t.Fatalf("can't deliver stripe webhook: status code %s", w.Status)
	}
}

func (xt *checkoutTest) entitlementCount(t *testing.T, courseID string) int {
	t.Helper()

	var n int
	if err := xt.DB.Get(&n, "SELECT count(*) FROM entitlement WHERE course_id = $1", courseID); err != nil {
		t.Fatalf("counting entitlements: %v", err)
	}
	return n
}

func (xt *checkoutTest) accountCount(t *testing.T, email string) int {
	t.Helper()

	var n int
	if err := xt.DB.Get(&n, "SELECT count(*) FROM users WHERE email = $1", email); err != nil {
		t.Fatalf("counting accounts: %v", err)
	}
	return n
}
