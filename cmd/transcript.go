package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/ticket-desk/internal/config"
	"github.com/psds-microservice/ticket-desk/internal/database"
	"github.com/psds-microservice/ticket-desk/internal/service"
	"github.com/psds-microservice/ticket-desk/internal/transcript"
	"github.com/spf13/cobra"
)

var transcriptStaff bool
var transcriptOut string

var transcriptCmd = &cobra.Command{
	Use:   "transcript <ticket-id>",
	Short: "Render a ticket transcript to an HTML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscript,
}

func init() {
	transcriptCmd.Flags().BoolVar(&transcriptStaff, "staff", false, "render the staff variant")
	transcriptCmd.Flags().StringVar(&transcriptOut, "out", "", "output file (default: transcript file name)")
	rootCmd.AddCommand(transcriptCmd)
}

func runTranscript(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("ticket id: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tickets := service.NewTicketService(conn)
	categories := service.NewCategoryService(conn)

	t, err := tickets.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ticket %d: %w", id, err)
	}
	catName := fmt.Sprintf("category %d", t.CategoryID)
	if cat, err := categories.GetByID(ctx, t.CategoryID); err == nil {
		catName = cat.Name
	}
	msgs, err := tickets.MessagesByTicket(ctx, id)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	doc, err := transcript.Render(t, catName, msgs, transcript.Options{Staff: transcriptStaff})
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	out := transcriptOut
	if out == "" {
		out = doc.FileName
	}
	if err := os.WriteFile(out, doc.HTML, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	log.Printf("transcript: ticket %d, %d messages, written to %s", id, doc.MessageCount, out)
	return nil
}
