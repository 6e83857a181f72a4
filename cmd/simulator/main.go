package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/models"
)

// Parts catalogue for realistic orders
var parts = []struct {
	Number, Description, System string
}{
	{"04465-02220", "Front brake pads", "Brakes"},
	{"17801-0T030", "Air filter element", "Engine"},
	{"48510-09N40", "Front shock absorber", "Suspension"},
	{"90915-YZZD4", "Oil filter", "Engine"},
	{"88450-02190", "A/C compressor", "Climate"},
	{"31250-12345", "Clutch disc", "Transmission"},
	{"81110-02K70", "Headlamp unit, left", "Electrical"},
	{"16400-0T041", "Radiator", "Cooling"},
}

var (
	customers  = []string{"Ada Byron", "Grace Hopper", "Alan Kay", "Barbara Liskov", "Ken Thompson", "Frances Allen"}
	vehicles   = []string{"Corolla", "Hilux", "RAV4", "Yaris", "Land Cruiser", "Camry"}
	requesters = []string{"Service desk", "Workshop", "Body shop"}
	statuses   = []string{"Ordered", "In transit", "Arrived", "Back-ordered"}
	reasons    = []string{"Customer unreachable", "Wrong part delivered", "Customer cancelled"}
)

// Client drives the workflow API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	rng     *rand.Rand
}

// NewClient creates a client with its own random source.
func NewClient(baseURL string, seed int64) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed with status: %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// randomOrder builds one work order. Some get a warranty start or a
// reminder so the scheduler has something to raise.
func (c *Client) randomOrder(now time.Time) models.Record {
	p := parts[c.rng.Intn(len(parts))]
	r := models.Record{
		CustomerName: customers[c.rng.Intn(len(customers))],
		Model:        vehicles[c.rng.Intn(len(vehicles))],
		VIN:          fmt.Sprintf("JT%015d", c.rng.Int63n(1e15)),
		Phone:        fmt.Sprintf("+44 7%09d", c.rng.Intn(1e9)),
		Mileage:      float64(5000 + c.rng.Intn(150000)),
		PartNumber:   p.Number,
		Description:  p.Description,
		RepairSystem: p.System,
		Requester:    requesters[c.rng.Intn(len(requesters))],
	}
	if c.rng.Intn(3) == 0 {
		r.AttachmentPath = fmt.Sprintf("/uploads/%s.pdf", p.Number)
	}
	if c.rng.Intn(2) == 0 {
		// between two years ago and today, so some have expired
		r.StartWarranty = now.AddDate(0, 0, -c.rng.Intn(730)).Format(models.DateLayout)
	}
	if c.rng.Intn(4) == 0 {
		due := now.Add(time.Duration(c.rng.Intn(120)) * time.Minute)
		r.Reminder = &models.Reminder{
			Date:    due.Format(models.DateLayout),
			Time:    due.Format(models.TimeLayout),
			Subject: "Call " + r.CustomerName,
		}
	}
	return r
}

// CreateOrders posts n random orders and returns their ids.
func (c *Client) CreateOrders(ctx context.Context, n int) ([]string, error) {
	records := make([]models.Record, n)
	now := time.Now()
	for i := range records {
		records[i] = c.randomOrder(now)
	}
	var resp struct {
		Records []models.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders", map[string]interface{}{"records": records}, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, len(resp.Records))
	for i, r := range resp.Records {
		ids[i] = r.ID
	}
	log.WithField("count", len(ids)).Info("Created orders")
	return ids, nil
}

// Stage lists the records of one stage.
func (c *Client) Stage(ctx context.Context, stage models.Stage) ([]models.Record, error) {
	var resp struct {
		Records []models.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/stages/"+string(stage), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// step is one simulated user action.
type step struct {
	name string
	from models.Stage
	run  func(ctx context.Context, id string) error
}

func (c *Client) steps() []step {
	move := func(path string, extra map[string]interface{}) func(context.Context, string) error {
		return func(ctx context.Context, id string) error {
			body := map[string]interface{}{"ids": []string{id}}
			for k, v := range extra {
				body[k] = v
			}
			return c.do(ctx, http.MethodPost, "/transitions/"+path, body, nil)
		}
	}
	return []step{
		{"commit to main", models.StageOrders, move("commit-to-main", nil)},
		{"send to call", models.StageMain, move("call", nil)},
		{"send to booking", models.StageCall, func(ctx context.Context, id string) error {
			date := time.Now().AddDate(0, 0, 1+c.rng.Intn(14)).Format(models.DateLayout)
			return move("booking", map[string]interface{}{"date": date, "note": "Simulated booking"})(ctx, id)
		}},
		{"send to archive", models.StageBooking, move("archive", map[string]interface{}{"reason": "Fitted"})},
		{"send to reorder", models.StageCall, func(ctx context.Context, id string) error {
			return move("reorder", map[string]interface{}{"reason": reasons[c.rng.Intn(len(reasons))]})(ctx, id)
		}},
		{"update part status", models.StageMain, func(ctx context.Context, id string) error {
			return c.do(ctx, http.MethodPut, "/records/"+id+"/part-status", map[string]string{"value": statuses[c.rng.Intn(len(statuses))]}, nil)
		}},
	}
}

// Step performs one random action on a random eligible record. It reports
// false when no record was eligible.
func (c *Client) Step(ctx context.Context) (bool, error) {
	steps := c.steps()
	st := steps[c.rng.Intn(len(steps))]
	records, err := c.Stage(ctx, st.from)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}
	r := records[c.rng.Intn(len(records))]
	if err := st.run(ctx, r.ID); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{"action": st.name, "tracking_id": r.TrackingID}).Info("Simulated action")
	return true, nil
}

// Run creates batch orders every refill ticks and one action per tick.
func (c *Client) Run(ctx context.Context, batch int, interval time.Duration, refill int) error {
	if _, err := c.CreateOrders(ctx, batch); err != nil {
		return err
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		if refill > 0 && n%refill == 0 {
			if _, err := c.CreateOrders(ctx, batch); err != nil {
				log.WithError(err).Error("Failed to create orders")
			}
		}
		if _, err := c.Step(ctx); err != nil {
			log.WithError(err).Warn("Simulated action failed")
		}
	}
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func main() {
	batch := envInt("SIM_BATCH_SIZE", 10)
	refill := envInt("SIM_REFILL_TICKS", 30)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	log.WithFields(log.Fields{
		"batch_size": batch,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting workflow simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := NewClient(apiURL, time.Now().UnixNano()).Run(ctx, batch, interval, refill); err != nil {
		log.WithError(err).Fatal("Simulation stopped")
	}
	log.Info("Simulation finished")
}
