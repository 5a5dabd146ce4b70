package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Brownie44l1/xray-bot/internal/feedback"
	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "data/feedback", "Path to the feedback badger DB")
	flag.Parse()

	// BypassLockGuard lets the tool read while the bot holds the lock.
	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	entries, err := feedback.NewBadgerLog(db).List(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "User", "Rating", "Line"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, e := range entries {
		table.Append([]string{
			e.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.UserID, 10),
			strconv.Itoa(e.Rating),
			e.Line(),
		})
	}
	table.Render()
}
