// TRV Hub
// Main entry point for the radiator-valve hub service.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opentrv/trv-hub/internal/boiler"
	"github.com/opentrv/trv-hub/internal/engine"
	"github.com/opentrv/trv-hub/internal/radio"
	"github.com/opentrv/trv-hub/internal/relay"
	"github.com/opentrv/trv-hub/internal/status"
)

// Config represents the configuration file structure.
type Config struct {
	Hub struct {
		Name      string `yaml:"name"`
		HubMode   bool   `yaml:"hub_mode"`
		Sensitive bool   `yaml:"sensitive"`
		KeyHex    string `yaml:"building_key"`
	} `yaml:"hub"`

	Radio struct {
		Driver   string `yaml:"driver"` // "concentratord", "serial" or "none"
		EventURL string `yaml:"event_url"`
		TxURL    string `yaml:"tx_url"`
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
	} `yaml:"radio"`

	SecondaryRadio struct {
		Driver   string `yaml:"driver"`
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
	} `yaml:"secondary_radio"`

	Boiler struct {
		GPIOChip string `yaml:"gpio_chip"`
		GPIOPin  int    `yaml:"gpio_pin"`
	} `yaml:"boiler"`

	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`

	Status struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"status"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Timing struct {
		StatsTXIntervalM int `yaml:"stats_tx_interval_m"`
	} `yaml:"timing"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "trv-hub",
		Short: "TRV Hub",
		Long:  "Hub service for OpenTRV-style radiator valves. Receives secure valve frames, aggregates calls for heat, and relays stats upstream.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the hub service",
		RunE:  runHub,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("TRV Hub v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/trvhub/hub.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func buildRadio(driver, eventURL, txURL, port string, baud int) (radio.Driver, error) {
	switch driver {
	case "concentratord":
		rc := radio.DefaultConcentratordConfig()
		if eventURL != "" {
			rc.EventURL = eventURL
		}
		if txURL != "" {
			rc.TxURL = txURL
		}
		return radio.NewConcentratordDriver(rc), nil
	case "serial":
		sc := radio.DefaultSerialConfig()
		if port != "" {
			sc.Port = port
		}
		if baud > 0 {
			sc.BaudRate = baud
		}
		return radio.NewSerialDriver(sc), nil
	case "", "none":
		return radio.NullDriver{}, nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", driver)
	}
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.HubMode = cfg.Hub.HubMode
	engineCfg.Sensitive = cfg.Hub.Sensitive
	engineCfg.KeyHex = cfg.Hub.KeyHex
	if cfg.Database.Path != "" {
		engineCfg.DatabasePath = cfg.Database.Path
	}
	if cfg.Timing.StatsTXIntervalM > 0 {
		engineCfg.StatsTXInterval = time.Duration(cfg.Timing.StatsTXIntervalM) * time.Minute
	}

	primary, err := buildRadio(cfg.Radio.Driver, cfg.Radio.EventURL, cfg.Radio.TxURL,
		cfg.Radio.Port, cfg.Radio.BaudRate)
	if err != nil {
		return fmt.Errorf("primary radio: %w", err)
	}
	secondary, err := buildRadio(cfg.SecondaryRadio.Driver, "", "",
		cfg.SecondaryRadio.Port, cfg.SecondaryRadio.BaudRate)
	if err != nil {
		return fmt.Errorf("secondary radio: %w", err)
	}

	opts := engine.Options{
		Primary:   primary,
		Secondary: secondary,
	}

	if cfg.Boiler.GPIOChip != "" {
		out, err := boiler.NewGPIOOutput(cfg.Boiler.GPIOChip, cfg.Boiler.GPIOPin)
		if err != nil {
			return fmt.Errorf("boiler output: %w", err)
		}
		defer out.Close()
		opts.Output = out
	}

	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "trv-hub"
		}
		pub, err := relay.NewRealPublisher(cfg.MQTT.Broker, clientID)
		if err != nil {
			return fmt.Errorf("mqtt publisher: %w", err)
		}
		opts.Publisher = pub
	}

	if cfg.Status.URL != "" {
		sc := status.DefaultConfig()
		sc.URL = cfg.Status.URL
		sc.APIKey = cfg.Status.APIKey
		sc.HubID = cfg.Hub.Name
		opts.Feed = status.New(sc)
	}

	eng, err := engine.New(engineCfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting TRV Hub %q", cfg.Hub.Name)
	if err := eng.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	if err := eng.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
