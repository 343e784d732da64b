package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/RichardRajuChirayath/Assure/pkg/client"
)

const defaultGatewayURL = "http://localhost:8080"

type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("ASSURE")
	c.v.SetDefault("gateway_url", defaultGatewayURL)
	c.v.SetDefault("output", "text")
	c.v.SetDefault("timeout", 30*time.Second)
	_ = c.v.BindEnv("gateway_url", "ASSURE_GATEWAY_URL")
	_ = c.v.BindEnv("env", "ASSURE_ENV")
	_ = c.v.BindEnv("operator", "ASSURE_OPERATOR", "USER")

	root := &cobra.Command{
		Use:           "assurectl",
		Short:         "Pre-execution safety layer for risky commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("gateway", defaultGatewayURL, "Assure gateway base URL (env ASSURE_GATEWAY_URL)")
	pf.StringP("output", "o", "text", "output format: text, json or yaml")
	pf.Duration("timeout", 30*time.Second, "request timeout")
	_ = c.v.BindPFlag("gateway_url", pf.Lookup("gateway"))
	_ = c.v.BindPFlag("output", pf.Lookup("output"))
	_ = c.v.BindPFlag("timeout", pf.Lookup("timeout"))

	root.AddCommand(
		c.checkCmd(),
		c.statusCmd(),
		c.anchorCmd(),
		c.verifyCmd(),
		c.overrideCmd(),
		c.guardCmd(),
	)
	return root
}

func (c *cli) client() *client.Client {
	cl := client.New(c.v.GetString("gateway_url"))
	cl.HTTP.Timeout = c.v.GetDuration("timeout")
	return cl
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.v.GetDuration("timeout"))
}

// environment resolves the target environment label sent to the gateway.
func (c *cli) environment() string {
	if env := strings.TrimSpace(c.v.GetString("env")); env != "" {
		return strings.ToUpper(env)
	}
	if os.Getenv("NODE_ENV") == "production" {
		return "PRODUCTION"
	}
	return "DEVELOPMENT"
}

func (c *cli) operator() string {
	if op := strings.TrimSpace(c.v.GetString("operator")); op != "" {
		return op
	}
	return "unknown"
}

// emit writes v as json or yaml and reports whether it did; text output is
// left to the caller.
func (c *cli) emit(w io.Writer, v any) (bool, error) {
	switch strings.ToLower(c.v.GetString("output")) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return true, enc.Encode(v)
	case "", "text":
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q", c.v.GetString("output"))
	}
}
