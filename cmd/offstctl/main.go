// offstctl is the control client, grounded on cmd/lncli/main.go's
// cli.App/global-flags/getClient shape, with lnrpc.NewLightningClient's
// gRPC stub replaced by a thin JSON-over-HTTP client hitting the rpc
// package's /control table, since this tree has no generated RPC client
// to dial instead.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[offstctl] %v\n", err)
	os.Exit(1)
}

type client struct {
	baseURL string
	http    *http.Client
}

func getClient(ctx *cli.Context) *client {
	return &client{
		baseURL: "http://" + ctx.GlobalString("rpcserver"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call posts req as JSON to c's /control/<op> endpoint and decodes the
// response into resp (if non-nil).
func (c *client) call(op string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpResp, err := c.http.Post(c.baseURL+"/control/"+op, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("%s: %s", httpResp.Status, string(msg))
	}
	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(b))
}

func main() {
	app := cli.NewApp()
	app.Name = "offstctl"
	app.Usage = "control plane client for offstd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8235",
			Usage: "host:port of offstd's HTTP control surface",
		},
	}
	app.Commands = []cli.Command{
		addRelayCommand,
		removeRelayCommand,
		addFriendCommand,
		removeFriendCommand,
		setFriendStatusCommand,
		addInvoiceCommand,
		cancelInvoiceCommand,
		commitInvoiceCommand,
		createPaymentCommand,
		createTransactionCommand,
		closePaymentCommand,
		ackClosePaymentCommand,
		recordReceiptCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
