package jmedge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type systemSettings struct {
	MaintenanceMode bool `json:"maintenanceMode"`
}

// maintenanceGate redirects visitors to the maintenance page while the
// remote settings say the platform is down. Any failure to read the
// settings lets the request through.
type maintenanceGate struct {
	cfg        MaintenanceConfig
	hc         *http.Client
	privileged map[string]struct{}
	errLog     *rateLimitedLogger
}

func newMaintenanceGate(cfg MaintenanceConfig) *maintenanceGate {
	g := &maintenanceGate{
		cfg:        cfg,
		hc:         &http.Client{Timeout: 5 * time.Second},
		privileged: make(map[string]struct{}, len(cfg.PrivilegedRoles)),
		errLog:     newRateLimitedLogger(time.Minute),
	}
	for _, r := range cfg.PrivilegedRoles {
		g.privileged[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return g
}

// allowed reports whether path stays reachable during maintenance.
func (g *maintenanceGate) allowed(r *http.Request) bool {
	path := r.URL.Path
	if path == g.cfg.Page || strings.HasPrefix(path, g.cfg.CheckIn) {
		return true
	}
	if strings.HasPrefix(path, g.cfg.Dashboard) {
		c, err := r.Cookie(g.cfg.RoleCookie)
		if err != nil {
			return false
		}
		_, ok := g.privileged[strings.ToLower(c.Value)]
		return ok
	}
	return false
}

// intercept writes a redirect and returns true when r must not proceed.
func (g *maintenanceGate) intercept(w http.ResponseWriter, r *http.Request) bool {
	if g.allowed(r) {
		return false
	}
	on, err := g.maintenanceMode(r.Context(), r.Header)
	if err != nil {
		g.errLog.Printf("maintenance: settings unavailable: %v", err)
		return false
	}
	if !on {
		return false
	}
	setJmedgeHeaders(w.Header(), outcomeMaintenance)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, g.cfg.Page, http.StatusTemporaryRedirect)
	return true
}

func (g *maintenanceGate) maintenanceMode(ctx context.Context, hdr http.Header) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.SettingsURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c := hdr.Get("Cookie"); c != "" {
		req.Header.Set("Cookie", c)
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var s systemSettings
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&s); err != nil {
		return false, fmt.Errorf("decode settings: %w", err)
	}
	return s.MaintenanceMode, nil
}
