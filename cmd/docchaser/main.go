package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/docchaser/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	secret    string
	output    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docchaser",
	Short: "Document request CLI",
	Long: `docchaser is the command-line interface for a docchaser server.

It creates document requests, lists and stops them, and triggers the
reminder sweep from cron or by hand.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.docchaser")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("DOCCHASER")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if secret == "" {
			secret = viper.GetString("cron_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.docchaser/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "docchaser server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "shared secret for the reminder and diagnostic routes")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(runRemindersCmd)
	rootCmd.AddCommand(testGatewayCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(2 * time.Minute)}
	if secret != "" {
		opts = append(opts, client.WithBearerToken(secret))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── create ───────────────────────────────────────────────────────────────────

var (
	createName     string
	createPhone    string
	createEmail    string
	createDocument string
	createDeadline string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document request and text the client an upload link",
	Long: `Create registers a new pending document request.

The deadline accepts an RFC 3339 timestamp or a duration from now:

  docchaser create --name "Jane Doe" --phone +15551234567 \
      --document "Proof of Income" --deadline 72h`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Client full name (required)")
	createCmd.Flags().StringVar(&createPhone, "phone", "", "Client phone number (required)")
	createCmd.Flags().StringVar(&createEmail, "email", "", "Client email address")
	createCmd.Flags().StringVar(&createDocument, "document", "", "Document type (required)")
	createCmd.Flags().StringVar(&createDeadline, "deadline", "", "Deadline as RFC 3339 or a duration such as 72h")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("phone")
	_ = createCmd.MarkFlagRequired("document")
}

func runCreate(cmd *cobra.Command, args []string) error {
	deadline, err := parseDeadline(createDeadline, time.Now())
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	res, err := c.CreateRequest(cmd.Context(), client.CreateRequestInput{
		ClientName:   createName,
		ClientPhone:  createPhone,
		ClientEmail:  createEmail,
		DocumentType: createDocument,
		Deadline:     deadline,
	})
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if output == "json" {
		return printJSON(res)
	}

	fmt.Printf("ID:          %s\n", res.Request.ID)
	fmt.Printf("Upload link: %s\n", res.Request.UploadLink)
	if res.Request.Deadline != nil {
		fmt.Printf("Deadline:    %s (%s)\n", res.Request.Deadline.Local().Format(time.RFC1123), humanize.Time(*res.Request.Deadline))
	}
	switch {
	case res.NotificationError != "":
		fmt.Printf("Notify:      failed: %s\n", res.NotificationError)
	case res.Notification != nil:
		fmt.Printf("Notify:      %s\n", res.Notification.Status)
	}
	return nil
}

// parseDeadline accepts "", an RFC 3339 timestamp, or a duration from now.
func parseDeadline(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid deadline %q: want RFC 3339 or a positive duration", s)
	}
	t := now.Add(d).UTC()
	return &t, nil
}

// ── list / get ───────────────────────────────────────────────────────────────

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List document requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		reqs, err := c.ListRequests(cmd.Context(), listStatus)
		if err != nil {
			return fmt.Errorf("list requests: %w", err)
		}
		if output == "json" {
			return printJSON(reqs)
		}
		return printRequests(reqs)
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: pending, completed or expired")
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one document request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		req, err := c.GetRequest(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get request: %w", err)
		}
		if output == "json" {
			return printJSON(req)
		}
		return printRequests([]client.Request{*req})
	},
}

func printRequests(reqs []client.Request) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLIENT\tDOCUMENT\tSTATUS\tCREATED\tDEADLINE\tLAST REMINDER")
	for _, r := range reqs {
		status := r.Status
		if r.RemindersStopped && status == "pending" {
			status += " (stopped)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.ClientName, r.DocumentType, status,
			humanize.Time(r.CreatedAt), relative(r.Deadline), relative(r.LastReminderAt))
	}
	return w.Flush()
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

// ── stop ─────────────────────────────────────────────────────────────────────

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop reminders for a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		req, err := c.StopReminders(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("stop reminders: %w", err)
		}
		if output == "json" {
			return printJSON(req)
		}
		fmt.Printf("Reminders stopped for %s (%s)\n", req.ClientName, req.ID)
		return nil
	},
}

// ── document-types ───────────────────────────────────────────────────────────

var typesCmd = &cobra.Command{
	Use:   "document-types",
	Short: "List the suggested document types",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		types, err := c.DocumentTypes(cmd.Context())
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(types)
		}
		for _, t := range types {
			fmt.Println(t)
		}
		return nil
	},
}

// ── run-reminders ────────────────────────────────────────────────────────────

var runRemindersCmd = &cobra.Command{
	Use:   "run-reminders",
	Short: "Trigger one reminder sweep",
	Long: `run-reminders asks the server to evaluate every pending request once:
expire those past their deadline and remind the rest when due.

Suitable for cron:

  */15 * * * * docchaser run-reminders --secret "$CRON_SECRET"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		out, err := c.RunReminders(ctx)
		if err != nil {
			return fmt.Errorf("run reminders: %w", err)
		}
		if output == "json" {
			return printJSON(out)
		}
		fmt.Println(out.Message)
		fmt.Printf("Processed: %d  Reminders sent: %d  Expired: %d\n",
			out.Results.Processed, out.Results.RemindersSent, out.Results.Expired)
		for _, e := range out.Results.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		return nil
	},
}

// ── test-gateway ─────────────────────────────────────────────────────────────

var (
	testPhone string
	testEmail string
)

var testGatewayCmd = &cobra.Command{
	Use:   "test-gateway",
	Short: "Send a diagnostic SMS and/or email through the server's gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		if testPhone == "" && testEmail == "" {
			return fmt.Errorf("provide --phone and/or --email")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		results, err := c.TestGateway(cmd.Context(), testPhone, testEmail)
		if err != nil {
			return fmt.Errorf("test gateway: %w", err)
		}
		if output == "json" {
			return printJSON(results)
		}
		for _, ch := range []string{"sms", "email"} {
			r, ok := results[ch]
			if !ok {
				continue
			}
			if r.Success {
				fmt.Printf("%-5s sent\n", ch)
			} else {
				fmt.Printf("%-5s failed (%s): %s\n", ch, r.Kind, r.Error)
			}
		}
		return nil
	},
}

func init() {
	testGatewayCmd.Flags().StringVar(&testPhone, "phone", "", "Phone number to text")
	testGatewayCmd.Flags().StringVar(&testEmail, "email", "", "Email address to mail")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the docchaser CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docchaser %s\n", version)
	},
}
