package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/data"
	"github.com/rescuewatch/rescue-monitor/internal/infra/feishu"
	"github.com/rescuewatch/rescue-monitor/internal/mcp"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: rescuectl [-api URL] <command>

Commands:
  status              show the monitor state
  claims [-n N]       list recent claim attempts
  enable              start monitoring the configured location
  disable             stop monitoring and clear the session
  test-alert          send a sample alert to the configured Feishu chat`)
}

func main() {
	godotenv.Load()

	apiURL := flag.String("api", defaultAPIURL(), "rescued API base URL")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := mcp.NewClient(*apiURL)
	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "status":
		err = printStatus(ctx, client)
	case "claims":
		fs := flag.NewFlagSet("claims", flag.ExitOnError)
		n := fs.Int("n", 20, "number of attempts")
		fs.Parse(args)
		err = printClaims(ctx, client, *n)
	case "enable":
		if _, err = client.Enable(ctx, mcp.EnableRequest{}); err == nil {
			err = printStatus(ctx, client)
		}
	case "disable":
		if err = client.Disable(ctx); err == nil {
			fmt.Println(yellow("monitoring disabled"))
		}
	case "test-alert":
		err = sendTestAlert(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func defaultAPIURL() string {
	if u := os.Getenv("RESCUE_API_URL"); u != "" {
		return u
	}
	port := os.Getenv("RESCUE_API_PORT")
	if port == "" {
		port = "9876"
	}
	return "http://127.0.0.1:" + port
}

func printStatus(ctx context.Context, client *mcp.Client) error {
	st, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}
	if !st.Active || st.Session == nil {
		fmt.Printf("%s %s\n", bold("rescue:"), yellow("off"))
		return nil
	}

	conn := st.ConnState
	if st.Connected {
		conn = green(conn)
	} else {
		conn = red(conn)
	}
	s := st.Session
	fmt.Printf("%s monitoring %s\n", bold("rescue:"), bold(s.Location.Name))
	fmt.Printf("  connection     %s\n", conn)
	fmt.Printf("  uptime         %s\n", st.Uptime)
	fmt.Printf("  topic          %s %s\n", s.Subscription.Topic, faint(fmt.Sprintf("(qos %d)", s.Subscription.QoS)))
	fmt.Printf("  cancellations  %d\n", s.TotalCancellationMessages)
	fmt.Printf("  claimed        %s\n", green(s.TotalClaimedWins))
	fmt.Printf("  reconnects     %d\n", s.TotalReconnects)
	fmt.Printf("  in flight      %d %s\n", st.InFlight, faint(fmt.Sprintf("(%d ids cached)", st.DedupSize)))
	return nil
}

func printClaims(ctx context.Context, client *mcp.Client, n int) error {
	claims, err := client.ListClaims(ctx, n)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		fmt.Println(faint("no claim attempts yet"))
		return nil
	}
	for _, c := range claims {
		label := c.Label
		if label == "" {
			label = c.TargetID
		}
		line := fmt.Sprintf("%s  %-9s ₹%-8s %-24s %d watching",
			c.StartedAt.Local().Format("01-02 15:04:05"),
			stateColor(c.State), formatCost(c.Cost), label, c.ViewerCount)
		if c.Error != "" {
			line += "  " + faint(c.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func stateColor(s domain.ClaimState) string {
	switch s {
	case domain.ClaimWon:
		return green(string(s))
	case domain.ClaimLost, domain.ClaimExpired:
		return yellow(string(s))
	case domain.ClaimFailed:
		return red(string(s))
	default:
		return faint(string(s))
	}
}

func formatCost(c float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", c), "0"), ".")
}

// sendTestAlert posts a sample won-claim alert through the same notifier the
// daemon uses.
func sendTestAlert(ctx context.Context) error {
	appID, appSecret, chatID := os.Getenv("FEISHU_APP_ID"), os.Getenv("FEISHU_APP_SECRET"), os.Getenv("FEISHU_CHAT_ID")
	if appID == "" || appSecret == "" || chatID == "" {
		return fmt.Errorf("FEISHU_APP_ID, FEISHU_APP_SECRET and FEISHU_CHAT_ID must be set")
	}
	client := feishu.NewClient(appID, appSecret, os.Getenv("FEISHU_BASE_URL"), zap.NewNop())
	notifier := data.NewFeishuNotifier(client, chatID)

	alert := domain.ClaimAlert{Label: "Test Kitchen", Cost: 99, ViewerCount: 3, Won: true}
	if err := notifier.NotifyClaim(ctx, alert); err != nil {
		return err
	}
	fmt.Println(green("alert sent:"), alert.Title())
	return nil
}
