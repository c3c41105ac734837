package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	metrics   string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"checkout", "Create an order"},
			{"pay", "Create an order, then capture a payment for it"},
			{"decline", "Capture with a declined test card"},
			{"refund", "Capture, then refund in full"},
			{"notify", "Record a templated notification"},
			{"bench", "Run checkout benchmark"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selected].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "ecommerce-events-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

type endpoints struct {
	Order        string
	Payment      string
	Notification string
}

func loadEndpoints() endpoints {
	return endpoints{
		Order:        getenv("ORDER_BASE_URL", "http://localhost:8080"),
		Payment:      getenv("PAYMENT_BASE_URL", "http://localhost:8081"),
		Notification: getenv("NOTIFICATION_BASE_URL", "http://localhost:8082"),
	}
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		eps := loadEndpoints()
		switch scn {
		case "bench":
			metrics := runBenchmark(eps)
			return scenarioResult{status: "Benchmark finished", metrics: metrics}
		case "pay":
			return runPay(eps, "tok_visa", false)
		case "decline":
			return runPay(eps, "tok_chargeDeclined", false)
		case "refund":
			return runPay(eps, "tok_visa", true)
		case "notify":
			body, err := postJSON(eps.Notification+"/notifications/template", map[string]any{
				"customerId":   "cust-cli",
				"templateName": "order-confirmation",
				"recipient":    "cli@example.com",
				"variables":    map[string]string{"orderId": "ORD-CLI", "totalAmount": "31.59", "status": "Pending"},
			}, "")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Notify failed: %v", err)}
			}
			return scenarioResult{status: "Notification recorded: " + body}
		default:
			body, err := createOrder(eps)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			return scenarioResult{status: "Checkout OK: " + body}
		}
	}
}

func runPay(eps endpoints, methodToken string, refund bool) scenarioResult {
	orderBody, err := createOrder(eps)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
	}
	var order struct {
		ID          string `json:"id"`
		TotalAmount string `json:"totalAmount"`
	}
	if err := json.Unmarshal([]byte(orderBody), &order); err != nil {
		return scenarioResult{status: fmt.Sprintf("Checkout response unreadable: %v", err)}
	}

	payBody, err := postJSON(eps.Payment+"/payments", map[string]any{
		"orderId":       order.ID,
		"amount":        order.TotalAmount,
		"currency":      "usd",
		"paymentMethod": "card",
		"description":   "cli scenario",
	}, "")
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Payment create failed: %v", err)}
	}
	var payment struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(payBody), &payment); err != nil {
		return scenarioResult{status: fmt.Sprintf("Payment response unreadable: %v", err)}
	}

	procBody, err := postJSON(eps.Payment+"/payments/"+payment.ID+"/process", map[string]any{
		"methodToken": methodToken,
		"customerRef": "cust-cli",
	}, "")
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Process failed: %v", err)}
	}
	if !refund {
		return scenarioResult{status: "Processed: " + procBody}
	}

	refundBody, err := postJSON(eps.Payment+"/payments/"+payment.ID+"/refund", map[string]any{
		"reason": "requested_by_customer",
	}, "")
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Refund failed: %v", err)}
	}
	return scenarioResult{status: "Refunded: " + refundBody}
}

func createOrder(eps endpoints) (string, error) {
	payload := map[string]any{
		"customerId": "cust-cli",
		"items": []map[string]any{
			{"productId": "sku-1", "quantity": 1},
		},
		"shippingAddress": cliAddress(),
		"billingAddress":  cliAddress(),
	}
	return postJSON(eps.Order+"/orders", payload, uuid.NewString())
}

func cliAddress() map[string]any {
	return map[string]any{
		"firstName":     "CLI",
		"lastName":      "User",
		"streetAddress": "1 Test Way",
		"city":          "Testville",
		"state":         "TS",
		"postalCode":    "00000",
		"country":       "US",
		"email":         "cli@example.com",
	}
}

func postJSON(url string, payload any, idemKey string) (string, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return strings.TrimSpace(string(body)), nil
}

func runBenchmark(eps endpoints) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count int
	var errors int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					_, err := createOrder(eps)
					mu.Lock()
					if err != nil {
						errors++
					} else {
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / duration.Seconds()
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f orders/s", count, errors, avg, throughput)
}

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|pay|decline|refund|notify|bench")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
