// Command gglite-cli is a small ops tool exercising core-bus's
// notify/call/subscribe verbs directly against any interface's socket
// using flag-based subcommand dispatch (SPEC_FULL.md §1 "CLI"). Detects a TTY via golang.org/x/term to
// decide between colorized and plain output, matching the corpus
// convention of CLI tools probing terminal capabilities.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "notify":
		runNotify(os.Args[2:])
	case "call":
		runCall(os.Args[2:])
	case "subscribe":
		runSubscribe(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "gglite-cli: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gglite-cli <notify|call|subscribe> -socket-dir DIR -iface NAME -method NAME [-params JSON]`)
}

func colorize(ok bool) func(string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return func(s string) string { return s }
	}
	code := "32" // green
	if !ok {
		code = "31" // red
	}
	return func(s string) string { return "\x1b[" + code + "m" + s + "\x1b[0m" }
}

func commonFlags(fs *flag.FlagSet) (socketDir, iface, method, params *string) {
	socketDir = fs.String("socket-dir", "/run/greengrass", "core-bus socket directory")
	iface = fs.String("iface", "", "core-bus interface name (required)")
	method = fs.String("method", "", "method name (required)")
	params = fs.String("params", "", "JSON object of call/notify/subscribe parameters")
	return
}

func runNotify(args []string) {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	socketDir, iface, method, params := commonFlags(fs)
	_ = fs.Parse(args)
	requireFlags(fs, *iface, *method)

	p, err := parseParamsJSON(*params)
	fatalOn(err)

	client, err := cbrt.Dial(*socketDir, *iface)
	fatalOn(err)
	defer client.Close()

	err = client.Notify(*method, p)
	fatalOn(err)
	fmt.Println(colorize(true)("notified"))
}

func runCall(args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	socketDir, iface, method, params := commonFlags(fs)
	timeout := fs.Duration("timeout", cb.CallTimeout, "call deadline")
	_ = fs.Parse(args)
	requireFlags(fs, *iface, *method)

	p, err := parseParamsJSON(*params)
	fatalOn(err)

	client, err := cbrt.Dial(*socketDir, *iface)
	fatalOn(err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result, err := client.Call(ctx, *method, p)
	if err != nil {
		fmt.Println(colorize(false)(err.Error()))
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(objectToJSON(result), "", "  ")
	fmt.Println(colorize(true)(string(out)))
}

func runSubscribe(args []string) {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	socketDir, iface, method, params := commonFlags(fs)
	_ = fs.Parse(args)
	requireFlags(fs, *iface, *method)

	p, err := parseParamsJSON(*params)
	fatalOn(err)

	client, err := cbrt.Dial(*socketDir, *iface)
	fatalOn(err)
	defer client.Close()

	done := make(chan struct{})
	handle, err := client.Subscribe(context.Background(), *method, p,
		func(obj cb.Object) cbrt.SubAction {
			out, _ := json.Marshal(objectToJSON(obj))
			fmt.Println(string(out))
			return cbrt.SubContinue
		},
		func() { close(done) },
	)
	fatalOn(err)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		_ = handle.Close()
	case <-done:
	}
}

func requireFlags(fs *flag.FlagSet, iface, method string) {
	if iface == "" || method == "" {
		fmt.Fprintln(os.Stderr, "gglite-cli: -iface and -method are required")
		fs.Usage()
		os.Exit(2)
	}
}

func fatalOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "gglite-cli: %v\n", err)
		os.Exit(1)
	}
}
