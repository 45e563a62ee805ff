// vend is an OpenADR 2.0b VEN daemon. It registers with a VTN, serves
// the datapoints declared in vend.yaml with built-in samplers, answers
// demand-response events, and polls until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridlink/vend/internal/config"
	"github.com/gridlink/vend/internal/oadr"
	"github.com/gridlink/vend/internal/transport"
	"github.com/gridlink/vend/internal/ven"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// Config path: VEND_CONFIG env > ./vend.yaml.
	configPath := config.ResolvePath()
	if configPath == "" {
		slog.Error("no config found: set VEND_CONFIG or provide ./vend.yaml")
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}
	slog.Info("config loaded", "path", configPath, "ven_name", cfg.VenName, "vtn_url", cfg.VtnURL)

	// Print our own certificate fingerprint so the VTN operator can
	// register it out of band.
	if cfg.Cert != "" && cfg.FingerprintShown() {
		pemBytes, err := os.ReadFile(cfg.Cert)
		if err != nil {
			slog.Error("failed to read client certificate", "path", cfg.Cert, "error", err)
			os.Exit(1)
		}
		fp, err := transport.FingerprintPEM(pemBytes)
		if err != nil {
			slog.Error("failed to fingerprint client certificate", "path", cfg.Cert, "error", err)
			os.Exit(1)
		}
		fmt.Printf("VEN certificate fingerprint: %s\n", fp)
	}

	// Early reachability probe: a dead VTN at startup is almost always
	// a config mistake, worth a clear message before the poll loop
	// starts retrying quietly.
	checker := transport.NewReachabilityChecker(cfg.VtnURL, "vtn")
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := checker.Check(probeCtx); err != nil {
		slog.Warn("VTN is not reachable, continuing anyway", "vtn_url", cfg.VtnURL, "error", err)
	}
	probeCancel()

	vtnFingerprint := cfg.VtnFingerprint
	if cfg.DisableSignature {
		slog.Warn("message-level verification disabled, relying on TLS alone")
		vtnFingerprint = ""
	}

	client := ven.New(ven.Options{
		VenName: cfg.VenName,
		VtnURL:  cfg.VtnURL,
		VenID:   cfg.VenID,
		TLS: transport.TLSConfig{
			CertFile:      cfg.Cert,
			KeyFile:       cfg.Key,
			Passphrase:    cfg.Passphrase,
			CAFile:        cfg.CAFile,
			CheckHostname: cfg.HostnameCheck(),
		},
		VtnFingerprint:  vtnFingerprint,
		AllowJitter:     cfg.AllowJitter == nil || *cfg.AllowJitter,
		StatusLogPeriod: cfg.StatusLogPeriod(),
		CleanUpPeriod:   cfg.CleanUpPeriod(),
		Handlers: ven.Handlers{
			OnEvent: logAndOptIn,
		},
	})

	if err := declareReports(client, cfg.Reports); err != nil {
		slog.Error("failed to declare reports", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := client.Run(ctx); err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	client.Stop()
	slog.Info("vend shutdown complete")
}

// logAndOptIn is the default event handler: log the event and opt in.
func logAndOptIn(event oadr.Event) (string, error) {
	slog.Info("event received",
		"event_id", event.ID(),
		"modification_number", event.EventDescriptor.ModificationNumber,
		"status", event.EventDescriptor.EventStatus,
		"dtstart", event.ActivePeriod.DtStart,
		"duration", event.ActivePeriod.Duration)
	return oadr.OptIn, nil
}

// declareReports registers one datapoint per config entry, backed by a
// built-in sampler.
func declareReports(client *ven.Client, reports []config.ReportConfig) error {
	for i, rc := range reports {
		opts := ven.ReportOptions{
			ResourceID:        rc.ResourceID,
			Measurement:       rc.Measurement,
			ReportSpecifierID: rc.ReportSpecifierID,
			RID:               rc.RID,
		}
		if rc.SamplingRateMin != "" || rc.SamplingRateMax != "" {
			rate, err := samplingRate(rc.SamplingRateMin, rc.SamplingRateMax)
			if err != nil {
				return fmt.Errorf("reports[%d]: %w", i, err)
			}
			opts.SamplingRate = rate
		}

		specifierID, rID, err := client.AddReport(buildSampler(rc), opts)
		if err != nil {
			return fmt.Errorf("reports[%d] (%s): %w", i, rc.ResourceID, err)
		}
		slog.Info("report declared",
			"resource_id", rc.ResourceID,
			"measurement", rc.Measurement,
			"report_specifier_id", specifierID,
			"r_id", rID,
			"source", rc.Source)
	}
	return nil
}

// buildSampler maps a config source to a built-in sampler.
func buildSampler(rc config.ReportConfig) ven.IncrementalSampler {
	switch rc.Source {
	case "jitter":
		return ven.ScalarFunc(func(context.Context) (float64, error) {
			return rc.Value + (rand.Float64()*2-1)*rc.Spread, nil
		})
	default: // "constant"
		return ven.ScalarFunc(func(context.Context) (float64, error) {
			return rc.Value, nil
		})
	}
}

// samplingRate parses the optional min/max sampling periods, which use
// ISO 8601 durations like PT10S.
func samplingRate(minRaw, maxRaw string) (*oadr.SamplingRate, error) {
	rate := &oadr.SamplingRate{
		MinPeriod: oadr.Duration(10 * time.Second),
		MaxPeriod: oadr.Duration(time.Hour),
	}
	if minRaw != "" {
		d, err := oadr.ParseDuration(minRaw)
		if err != nil {
			return nil, fmt.Errorf("sampling_rate_min: %w", err)
		}
		rate.MinPeriod = d
	}
	if maxRaw != "" {
		d, err := oadr.ParseDuration(maxRaw)
		if err != nil {
			return nil, fmt.Errorf("sampling_rate_max: %w", err)
		}
		rate.MaxPeriod = d
	}
	return rate, nil
}
