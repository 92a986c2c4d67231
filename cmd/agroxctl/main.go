package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devghori1264/agrox/internal/auth"
	"github.com/devghori1264/agrox/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverBase = "http://localhost:8080"
	token      = os.Getenv("AGROX_TOKEN")
	log        = zap.NewNop()
)

func main() {
	root := &cobra.Command{
		Use:           "agroxctl",
		Short:         "Talk to an agrox ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				log = l
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&serverBase, "server", serverBase, "agrox HTTP address")
	root.PersistentFlags().StringVar(&token, "token", token, "bearer token (default $AGROX_TOKEN)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log requests")

	root.AddCommand(
		pingCmd(),
		tokenCmd(),
		registryCmd(),
		registerCmd(),
		toggleCmd("start"),
		toggleCmd("stop"),
		getCmd(),
		uploadCmd(),
		readingsCmd(),
		useCmd(),
		claimCmd(),
		eventsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the node is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/ping", nil, false)
		},
	}
}

func tokenCmd() *cobra.Command {
	var identity, secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a caller token with the node's shared secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("AGROX_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or $AGROX_JWT_SECRET required")
			}
			tok, err := auth.NewIssuer(secret, ttl).Issue(models.Identity(identity))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "caller identity")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func registryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Show registry counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/registry", nil, false)
		},
	}
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register MACHINE_ID",
		Short: "Register a machine owned by the token's identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/machines", map[string]string{"machine_id": args[0]}, true)
		},
	}
}

func toggleCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " MACHINE_ID",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a machine you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/machines/"+url.PathEscape(args[0])+"/"+action, nil, true)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get MACHINE_ID",
		Short: "Show a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/machines/"+url.PathEscape(args[0]), nil, false)
		},
	}
}

func uploadCmd() *cobra.Command {
	var temperature, humidity float64
	var imageURL string
	cmd := &cobra.Command{
		Use:   "upload MACHINE_ID",
		Short: "Upload a sensor reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"temperature": temperature, "humidity": humidity}
			if cmd.Flags().Changed("image-url") {
				body["image_url"] = imageURL
			}
			return call(http.MethodPost, "/machines/"+url.PathEscape(args[0])+"/data", body, true)
		},
	}
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "temperature reading")
	cmd.Flags().Float64Var(&humidity, "humidity", 0, "humidity reading")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "optional image reference")
	_ = cmd.MarkFlagRequired("temperature")
	_ = cmd.MarkFlagRequired("humidity")
	return cmd
}

func readingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readings MACHINE_ID",
		Short: "List a machine's readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/machines/"+url.PathEscape(args[0])+"/readings", nil, false)
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use READING_ID",
		Short: "Record a use of a reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/readings/"+url.PathEscape(args[0])+"/use", nil, true)
		},
	}
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim MACHINE_ID",
		Short: "Claim a machine's accrued rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/machines/"+url.PathEscape(args[0])+"/claim", nil, true)
		},
	}
}

func eventsCmd() *cobra.Command {
	var natsURL, subject string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow ledger events from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := nats.Connect(natsURL, nats.Name("agroxctl"))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Drain()

			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				var ev models.Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					log.Warn("undecodable event", zap.Error(err))
					return
				}
				fmt.Printf("%s %-20s %-32s caller=%s amount=%d\n",
					ev.Time.Format(time.RFC3339), ev.Type, ev.MachineID, ev.Caller, ev.Amount)
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Unsubscribe()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", nats.DefaultURL, "NATS server")
	cmd.Flags().StringVar(&subject, "subject", "agrox.events", "events subject")
	return cmd
}

func call(method, path string, body any, needToken bool) error {
	var r io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(bs)
	}
	req, err := http.NewRequest(method, serverBase+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if needToken {
		if token == "" {
			return fmt.Errorf("--token or $AGROX_TOKEN required")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log.Debug("request", zap.String("method", method), zap.String("url", req.URL.String()))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		out.Reset()
		out.Write(raw)
	}
	fmt.Println(strings.TrimSpace(out.String()))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
