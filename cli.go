package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/conroydamien/eth-squid-station/api"
)

// parseArgs parses the arguments of a subcommand, which takes no flags
// besides -h.
func parseArgs(args []string, usage string) *flag.FlagSet {
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}
	return f
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}

func stop(args []string, c *api.Client) {
	const usage = `
eth-squid-station stop

Stop the program.
`
	parseArgs(args, usage)
	if err := c.Stop(); err != nil {
		log.Fatal(err)
	}
}

func status(args []string, c *api.Client) {
	const usage = `
eth-squid-station status

Show application status:

	collector: Stage of the ingestion cycle (idle, fetching, merging,
	           analyzing, publishing).
	head     : Chain head as last polled.
	cursor   : Next block to be processed.
	gasprice : Whether or not a recommendation is available.
	model    : Whether or not the confirmation model has been trained.

`
	parseArgs(args, usage)
	result, err := c.Status()
	if err != nil {
		log.Fatal(err)
	}
	for _, k := range []string{"collector", "head", "cursor", "gasprice", "model"} {
		fmt.Printf("%-10s: %s\n", k, result[k])
	}
}

func gasPrice(args []string, c *api.Client) {
	const usage = `
eth-squid-station gasprice

Show the gas prices (gwei) recommended for each tier, the average block time
(seconds) and the block the recommendation is based on.

`
	parseArgs(args, usage)
	r, err := c.GasPrice()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-10s: %8.1f\n", "safeLow", r.SafeLow)
	fmt.Printf("%-10s: %8.1f\n", "standard", r.Standard)
	fmt.Printf("%-10s: %8.1f\n", "fast", r.Fast)
	fmt.Printf("%-10s: %8.1f\n", "fastest", r.Fastest)
	fmt.Printf("%-10s: %8.2f\n", "block_time", r.BlockTime)
	fmt.Printf("%-10s: %8d\n", "blockNum", r.BlockNum)
}

func predictTable(args []string, c *api.Client) {
	const usage = `
eth-squid-station predicttable

Show the percentage of hashpower accepting each gas price (gwei), over the
blocks in the window.

`
	parseArgs(args, usage)
	rows, err := c.PredictTable()
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range rows {
		fmt.Printf("%6.1f: %3d\n", row.GasPrice, row.HashpowerAccepting)
	}
}

func waitTime(args []string, c *api.Client) {
	const usage = `
eth-squid-station waittime GWEI

Show the expected number of blocks and minutes for a tx with gas price GWEI to
be confirmed with 95% probability. -1 means it is not expected to confirm.

`
	f := parseArgs(args, usage)
	gwei, err := strconv.ParseFloat(f.Arg(0), 64)
	if err != nil {
		log.Fatal(err)
	}
	w, err := c.WaitTime(gwei)
	if err != nil {
		log.Fatal(err)
	}
	source := "prediction table"
	if w.Model {
		source = "confirmation model"
	}
	fmt.Printf("%-20s: %.1f\n", "gasprice", w.GasPrice)
	fmt.Printf("%-20s: %d\n", "hashpower_accepting", w.HashpowerAccepting)
	fmt.Printf("%-20s: %d (%s)\n", "expected_blocks", w.ExpectedBlocks, source)
	fmt.Printf("%-20s: %.2f\n", "expected_minutes", w.ExpectedMinutes)
	fmt.Printf("%-20s: %d\n", "blockNum", w.BlockNum)
}

func confirmTable(args []string, c *api.Client) {
	const usage = `
eth-squid-station confirmtable

Show the confirmation model's estimate of the hashpower accepting each gas
price (gwei), and the resulting expected blocks / minutes to confirmation.

`
	parseArgs(args, usage)
	doc, err := c.ConfirmTable()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("block %d, %d txs, score %.3f\n", doc.BlockNum, doc.NumTxs, doc.ConfirmScore)
	for _, row := range doc.Rows {
		fmt.Printf("%6.1f: %6.1f %4d %8.2f\n",
			row.GasPrice, row.HashpowerAccepting, row.ExpectedBlocks, row.ExpectedMinutes)
	}
}

func setDebug(args []string, c *api.Client) {
	const usage = `
eth-squid-station setdebug BOOL

Turn on debug-level logging with "true"; turn off with "false".

`
	f := parseArgs(args, usage)
	on, err := strconv.ParseBool(f.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if err := c.SetDebug(on); err != nil {
		log.Fatal(err)
	}
}

func appConfig(args []string, c *api.Client) {
	const usage = `
eth-squid-station config

Show app config settings.

`
	parseArgs(args, usage)
	result, err := c.Config()
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}

func appMetrics(args []string, c *api.Client) {
	const usage = `
eth-squid-station metrics

Show app metrics. Prometheus metrics are served separately at /metrics.

`
	parseArgs(args, usage)
	result, err := c.Metrics()
	if err != nil {
		log.Fatal(err)
	}
	printJSON(result)
}
