package client_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pratik-mahalle/vitalsync/pkg/client"
)

// Example connects a vendor and syncs it
func Example() {
	c := client.NewClient(client.Config{
		BaseURL: "https://vitalsync.example.com",
		Token:   "session-jwt",
	})

	ctx := context.Background()

	if err := c.Integrations().Select(ctx, "fitbit"); err != nil {
		log.Fatal(err)
	}
	auth, err := c.Integrations().Authorize(ctx, "fitbit")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Open:", auth.AuthorizationURL)

	// After the user has granted access:
	result, err := c.Integrations().Sync(ctx, "fitbit", nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: %d created, %d skipped\n", result.Outcome, result.ObservationsCreated, result.ObservationsSkipped)
}

// ExampleJobService_Wait queues a sync and waits for it
func ExampleJobService_Wait() {
	c := client.NewClient(client.Config{
		BaseURL: "https://vitalsync.example.com",
		Token:   "session-jwt",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job, err := c.Integrations().SyncAsync(ctx, "oura", &client.SyncRequest{From: "2024-12-01", To: "2024-12-19"})
	if err != nil {
		log.Fatal(err)
	}
	job, err = c.Jobs().Wait(ctx, job.ID, 2*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(job.Status)
}

// ExampleObservationService_List pages through heart rate readings
func ExampleObservationService_List() {
	c := client.NewClient(client.Config{
		BaseURL: "https://vitalsync.example.com",
		Token:   "session-jwt",
	})

	page, err := c.Observations().List(context.Background(), &client.ObservationListOptions{
		Code: "8867-4",
		From: "2024-12-19",
		To:   "2024-12-19",
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, o := range page.Data {
		fmt.Printf("%s %v %s\n", o.Effective.Format(time.RFC3339), o.Value, o.Unit)
	}
}
