package main

import (
	"strconv"

	"github.com/urfave/cli"
)

var addRelayCommand = cli.Command{
	Name:      "addrelay",
	Usage:     "add a relay to this node's advertised set",
	ArgsUsage: "pubkey address",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "addrelay")
		}
		req := map[string]interface{}{
			"relay": map[string]string{
				"public_key": ctx.Args().Get(0),
				"address":    ctx.Args().Get(1),
			},
		}
		var resp interface{}
		if err := getClient(ctx).call("add_relay", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var removeRelayCommand = cli.Command{
	Name:      "removerelay",
	Usage:     "remove a relay by public key",
	ArgsUsage: "pubkey",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "removerelay")
		}
		req := map[string]interface{}{"public_key": ctx.Args().Get(0)}
		var resp interface{}
		if err := getClient(ctx).call("remove_relay", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var addFriendCommand = cli.Command{
	Name:      "addfriend",
	Usage:     "add a new, disabled friend",
	ArgsUsage: "pubkey name",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "addfriend")
		}
		req := map[string]interface{}{
			"public_key": ctx.Args().Get(0),
			"name":       ctx.Args().Get(1),
			"relays":     []interface{}{},
		}
		var resp interface{}
		if err := getClient(ctx).call("add_friend", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var removeFriendCommand = cli.Command{
	Name:      "removefriend",
	Usage:     "remove a friend",
	ArgsUsage: "pubkey",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "removefriend")
		}
		req := map[string]interface{}{"public_key": ctx.Args().Get(0)}
		var resp interface{}
		if err := getClient(ctx).call("remove_friend", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var setFriendStatusCommand = cli.Command{
	Name:      "setfriendstatus",
	Usage:     "enable or disable a friend",
	ArgsUsage: "pubkey true|false",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "setfriendstatus")
		}
		req := map[string]interface{}{
			"public_key": ctx.Args().Get(0),
			"enabled":    ctx.Args().Get(1) == "true",
		}
		var resp interface{}
		if err := getClient(ctx).call("set_friend_status", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var addInvoiceCommand = cli.Command{
	Name:      "addinvoice",
	Usage:     "create a new seller-side invoice",
	ArgsUsage: "invoice_id currency total_dest_payment",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.ShowCommandHelp(ctx, "addinvoice")
		}
		req := map[string]interface{}{
			"invoice_id":         ctx.Args().Get(0),
			"currency":           ctx.Args().Get(1),
			"total_dest_payment": ctx.Args().Get(2),
		}
		var resp interface{}
		if err := getClient(ctx).call("add_invoice", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var cancelInvoiceCommand = cli.Command{
	Name:      "cancelinvoice",
	Usage:     "cancel a seller-side invoice",
	ArgsUsage: "invoice_id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "cancelinvoice")
		}
		req := map[string]interface{}{"invoice_id": ctx.Args().Get(0)}
		var resp interface{}
		if err := getClient(ctx).call("cancel_invoice", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var commitInvoiceCommand = cli.Command{
	Name:      "commitinvoice",
	Usage:     "submit a buyer's signed commit to claim an invoice",
	ArgsUsage: "invoice_id currency total_dest_payment src_plain_lock dest_plain_lock serial_num signature_hex",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 7 {
			return cli.ShowCommandHelp(ctx, "commitinvoice")
		}
		serialNum, err := strconv.ParseUint(ctx.Args().Get(5), 10, 64)
		if err != nil {
			return err
		}
		req := map[string]interface{}{
			"invoice_id":         ctx.Args().Get(0),
			"currency":           ctx.Args().Get(1),
			"total_dest_payment": ctx.Args().Get(2),
			"src_plain_lock":     ctx.Args().Get(3),
			"dest_plain_lock":    ctx.Args().Get(4),
			"serial_num":         serialNum,
			"signature":          ctx.Args().Get(6),
		}
		var resp interface{}
		if err := getClient(ctx).call("commit_invoice", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var createPaymentCommand = cli.Command{
	Name:      "createpayment",
	Usage:     "open a new buyer-side payment",
	ArgsUsage: "payment_id invoice_id currency total_dest_payment dest_pubkey",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 5 {
			return cli.ShowCommandHelp(ctx, "createpayment")
		}
		req := map[string]interface{}{
			"payment_id":         ctx.Args().Get(0),
			"invoice_id":         ctx.Args().Get(1),
			"currency":           ctx.Args().Get(2),
			"total_dest_payment": ctx.Args().Get(3),
			"dest_public_key":    ctx.Args().Get(4),
		}
		var resp interface{}
		if err := getClient(ctx).call("create_payment", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var createTransactionCommand = cli.Command{
	Name:      "createtransaction",
	Usage:     "push a routed request for a payment's first hop",
	ArgsUsage: "payment_id request_id dest_payment left_fees route_pubkey...",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 5 {
			return cli.ShowCommandHelp(ctx, "createtransaction")
		}
		args := ctx.Args()
		route := make([]string, 0, ctx.NArg()-4)
		for _, a := range args[4:] {
			route = append(route, a)
		}
		req := map[string]interface{}{
			"payment_id":   args.Get(0),
			"request_id":   args.Get(1),
			"dest_payment": args.Get(2),
			"left_fees":    args.Get(3),
			"route":        route,
		}
		var resp interface{}
		if err := getClient(ctx).call("create_transaction", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var closePaymentCommand = cli.Command{
	Name:      "closepayment",
	Usage:     "request closing a payment and report its status",
	ArgsUsage: "payment_id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "closepayment")
		}
		req := map[string]interface{}{"payment_id": ctx.Args().Get(0)}
		var resp interface{}
		if err := getClient(ctx).call("request_close_payment", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var ackClosePaymentCommand = cli.Command{
	Name:      "ackclosepayment",
	Usage:     "acknowledge a payment's terminal result",
	ArgsUsage: "payment_id ack_uid",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "ackclosepayment")
		}
		req := map[string]interface{}{
			"payment_id": ctx.Args().Get(0),
			"ack_uid":    ctx.Args().Get(1),
		}
		var resp interface{}
		if err := getClient(ctx).call("ack_close_payment", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}

var recordReceiptCommand = cli.Command{
	Name:      "recordreceipt",
	Usage:     "store a seller-signed receipt obtained out of band",
	ArgsUsage: "payment_id receipt",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "recordreceipt")
		}
		req := map[string]interface{}{
			"payment_id": ctx.Args().Get(0),
			"receipt":    ctx.Args().Get(1),
		}
		var resp interface{}
		if err := getClient(ctx).call("record_receipt", req, &resp); err != nil {
			fatal(err)
		}
		printJSON(resp)
		return nil
	},
}
