package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub counts product discoveries per site.
func ExampleHub() {
	perSite := map[string]int64{}
	hub := NewHub(Config{MaxBatchEvents: 8, MaxBatchWait: time.Second}, sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			perSite[evt.Site] += evt.Discoveries
		}
		return nil
	}))

	runID := RunIDBytes("00000000-0000-0000-0000-000000000001")
	for _, u := range []string{"https://shop.example.com/motorcycles/cb500f", "https://shop.example.com/motorcycles/cb650r"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageDiscovery, Site: "honda-uk", URL: u, Discoveries: 1})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("honda-uk: %d\n", perSite["honda-uk"])
	// Output:
	// honda-uk: 2
}

// ExampleSink totals downloaded bytes.
func ExampleSink() {
	var total int64
	hub := NewHub(Config{MaxBatchEvents: 1}, sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			total += evt.Bytes
		}
		return nil
	}))

	hub.Emit(Event{
		RunID:       UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:          time.Unix(0, 0),
		Stage:       StageFetchDone,
		Site:        "honda-uk",
		StatusClass: Status2xx,
		Bytes:       512,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes downloaded: %d\n", total)
	// Output:
	// bytes downloaded: 512
}
