// Package main runs end-to-end checks of the lead funnel against a running
// API:
//   - web lead capture and staff listing
//   - a chat turn on the lead's conversation
//   - rescoring with finance attributes
//   - status transitions along the funnel, including a rejected backward move
//   - the transition history and the compliance event feed
//   - a signed WhatsApp webhook
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	ADMIN_JWT_SECRET=... API_BASE_URL=... TWILIO_AUTH_TOKEN=... go run scripts/e2e/run_e2e.go whatsapp
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testPhone = "+5215550009999"

var (
	apiBase     string
	publicBase  string
	twilioToken string
	staffJWT    string
	adminJWT    string
	client      = &http.Client{Timeout: 30 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func mintJWT(secret, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "e2e-runner",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}

func call(method, path, bearer string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type lead struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	AIScore int    `json:"ai_score"`
}

func createLead(t *T, name string) *lead {
	var l lead
	status, err := call(http.MethodPost, "/leads/web", "", map[string]string{
		"name":    name,
		"phone":   fmt.Sprintf("+52155%08d", time.Now().UnixNano()%100000000),
		"type":    "finance",
		"message": "Me interesa financiar una camioneta",
	}, &l)
	if err != nil || status != http.StatusCreated {
		t.fatalf("create lead: status=%d err=%v", status, err)
		return nil
	}
	return &l
}

func transition(leadID, target string, extra map[string]interface{}) (int, error) {
	body := map[string]interface{}{"status": target}
	for k, v := range extra {
		body[k] = v
	}
	return call(http.MethodPost, "/leads/"+leadID+"/transitions", staffJWT, body, nil)
}

func scenarioWebLead(t *T) {
	l := createLead(t, "Ana Torres")
	if l == nil {
		return
	}
	t.check("new lead starts in new", l.Status == "new")

	var got lead
	status, err := call(http.MethodGet, "/leads/"+l.ID, staffJWT, nil, &got)
	t.check("staff can read the lead", err == nil && status == http.StatusOK && got.ID == l.ID)

	status, _ = call(http.MethodGet, "/leads/"+l.ID, "", nil, nil)
	t.check("lead read requires a token", status == http.StatusUnauthorized)
}

func scenarioChat(t *T) {
	l := createLead(t, "Carlos Méndez")
	if l == nil {
		return
	}
	var turn struct {
		State string `json:"state"`
		Reply string `json:"reply"`
		Error string `json:"error"`
	}
	status, err := call(http.MethodPost, "/conversations/"+l.ID+"/messages", "", map[string]string{
		"message": "Hola, ¿tienen una Toyota Hilux 2022 disponible?",
	}, &turn)
	t.check("chat turn accepted", err == nil && status == http.StatusOK)
	t.check("assistant replied", strings.TrimSpace(turn.Reply) != "")

	var transcript struct {
		Messages []json.RawMessage `json:"messages"`
	}
	status, err = call(http.MethodGet, "/conversations/"+l.ID, "", nil, &transcript)
	t.check("transcript readable", err == nil && status == http.StatusOK)
	t.check("transcript has both turns", len(transcript.Messages) >= 2)
}

func scenarioScore(t *T) {
	l := createLead(t, "Lucía Herrera")
	if l == nil {
		return
	}
	var resp struct {
		Score int    `json:"score"`
		Tier  string `json:"tier"`
	}
	status, err := call(http.MethodPost, "/leads/"+l.ID+"/score", staffJWT, map[string]string{
		"monthly_income":    "52000",
		"credit_score_band": "excelente",
		"time_at_job":       "6 años",
		"employer":          "Grupo Bimbo",
	}, &resp)
	t.check("rescore accepted", err == nil && status == http.StatusOK)
	t.check("score in range", resp.Score >= 0 && resp.Score <= 100)
	t.check("tier reported", resp.Tier != "")
}

func scenarioFunnel(t *T) {
	l := createLead(t, "Roberto Salinas")
	if l == nil {
		return
	}
	for _, step := range []struct {
		target string
		extra  map[string]interface{}
	}{
		{"qualified", map[string]interface{}{"score": 80}},
		{"negotiating", map[string]interface{}{"assigned_agent": "luis"}},
		{"sold", map[string]interface{}{"sale_id": "S-E2E", "amount": 489900}},
	} {
		status, err := transition(l.ID, step.target, step.extra)
		t.check("transition to "+step.target, err == nil && status == http.StatusOK)
	}

	var hist struct {
		Transitions []struct {
			ToStatus string `json:"to_status"`
		} `json:"transitions"`
	}
	status, err := call(http.MethodGet, "/leads/"+l.ID+"/transitions", staffJWT, nil, &hist)
	t.check("history readable", err == nil && status == http.StatusOK)
	t.check("history has three transitions", len(hist.Transitions) == 3)

	status, _ = transition(l.ID, "contacted", nil)
	t.check("moving backward is rejected", status == http.StatusConflict)

	status, _ = transition(l.ID, "lost", map[string]interface{}{"loss_reason": "precio"})
	t.check("sold is terminal", status == http.StatusConflict)
}

func scenarioCompliance(t *T) {
	var resp struct {
		Events []json.RawMessage `json:"events"`
	}
	status, err := call(http.MethodGet, "/admin/compliance/events?limit=5", adminJWT, nil, &resp)
	t.check("admin can list compliance events", err == nil && status == http.StatusOK)

	status, _ = call(http.MethodGet, "/admin/compliance/events", staffJWT, nil, nil)
	t.check("sales role cannot list compliance events", status == http.StatusForbidden)
}

func scenarioWhatsApp(t *T) {
	if twilioToken == "" {
		fmt.Println("    SKIP: TWILIO_AUTH_TOKEN not set")
		return
	}
	form := url.Values{
		"MessageSid":  {fmt.Sprintf("SME2E%d", time.Now().UnixNano())},
		"From":        {"whatsapp:" + testPhone},
		"To":          {"whatsapp:+5215550000000"},
		"Body":        {"Hola, busco un sedán automático"},
		"NumMedia":    {"0"},
		"ProfileName": {"E2E"},
	}
	webhookURL := strings.TrimRight(publicBase, "/") + "/webhooks/twilio/whatsapp"

	req, _ := http.NewRequest(http.MethodPost, apiBase+"/webhooks/twilio/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", twilioSignature(twilioToken, webhookURL, form))
	resp, err := client.Do(req)
	if err != nil {
		t.fatalf("webhook: %v", err)
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	t.check("signed webhook accepted", resp.StatusCode == http.StatusOK)
	t.check("TwiML returned", strings.Contains(string(body), "<Response>"))

	req, _ = http.NewRequest(http.MethodPost, apiBase+"/webhooks/twilio/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "forged")
	resp, err = client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	t.check("forged signature rejected", err == nil && resp.StatusCode == http.StatusUnauthorized)
}

// twilioSignature signs url plus the sorted form pairs with HMAC-SHA1.
func twilioSignature(token, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Println("API_BASE_URL and ADMIN_JWT_SECRET are required")
		os.Exit(2)
	}
	publicBase = os.Getenv("PUBLIC_BASE_URL")
	if publicBase == "" {
		publicBase = apiBase
	}
	twilioToken = os.Getenv("TWILIO_AUTH_TOKEN")
	staffJWT = mintJWT(secret, "sales")
	adminJWT = mintJWT(secret, "admin")

	scenarios := []scenario{
		{"web-lead", scenarioWebLead},
		{"chat", scenarioChat},
		{"score", scenarioScore},
		{"funnel", scenarioFunnel},
		{"compliance", scenarioCompliance},
		{"whatsapp", scenarioWhatsApp},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	var passed, failed int
	for _, sc := range scenarios {
		if filter != "" && sc.Name != filter {
			continue
		}
		fmt.Printf("== %s\n", sc.Name)
		t := &T{}
		sc.Fn(t)
		passed += t.passed
		failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
