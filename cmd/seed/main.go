package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/app"
	"github.com/hackgods/slot-booking-engine/internal/booking"
	"github.com/hackgods/slot-booking-engine/internal/config"
	"github.com/hackgods/slot-booking-engine/internal/logger"
)

type seedConfig struct {
	Providers   int
	Days        int
	SlotMinutes int
	DayStart    int // hour, UTC
	DayEnd      int // hour, UTC
	MaxCapacity int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	sc := seedConfig{
		Providers:   getInt("SEED_PROVIDERS", 25),
		Days:        getInt("SEED_DAYS", 14),
		SlotMinutes: getInt("SEED_SLOT_MINUTES", 30),
		DayStart:    getInt("SEED_DAY_START_HOUR", 9),
		DayEnd:      getInt("SEED_DAY_END_HOUR", 17),
		MaxCapacity: getInt("SEED_MAX_CAPACITY", 3),
	}
	if sc.SlotMinutes <= 0 || sc.DayEnd <= sc.DayStart || sc.MaxCapacity < 1 {
		zl.Fatal("invalid seed configuration", zap.Any("seed", sc))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := app.Bootstrap(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("bootstrap failed", zap.Error(err))
	}
	defer rt.Close()

	faker := gofakeit.New(0)

	providers := make([]string, 0, sc.Providers)
	for i := 0; i < sc.Providers; i++ {
		providers = append(providers, providerID(faker))
	}

	created, skipped := 0, 0
	for _, p := range providers {
		n, s, err := seedProvider(ctx, rt.Service, faker, p, sc)
		if err != nil {
			zl.Fatal("seed provider", zap.String("provider_id", p), zap.Error(err))
		}
		created += n
		skipped += s
		zl.Info("provider seeded", zap.String("provider_id", p), zap.Int("slots", n))
	}

	zl.Info("seed complete",
		zap.Int("providers", len(providers)),
		zap.Int("slots_created", created),
		zap.Int("slots_skipped", skipped),
	)
	fmt.Println(strings.Join(providers, "\n"))
}

// providerID derives a readable, stable-looking identity such as
// "dr-jane-doe-4821".
func providerID(f *gofakeit.Faker) string {
	name := strings.ToLower(f.FirstName() + "-" + f.LastName())
	name = strings.ReplaceAll(name, " ", "-")
	return fmt.Sprintf("dr-%s-%04d", name, f.Number(0, 9999))
}

// seedProvider creates one day schedule per day, starting tomorrow. Some
// slots are randomly skipped so schedules look like real calendars.
func seedProvider(ctx context.Context, svc *booking.Service, f *gofakeit.Faker, providerID string, sc seedConfig) (created, skipped int, err error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	step := time.Duration(sc.SlotMinutes) * time.Minute

	for d := 1; d <= sc.Days; d++ {
		date := today.AddDate(0, 0, d)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		dayStart := date.Add(time.Duration(sc.DayStart) * time.Hour)
		dayEnd := date.Add(time.Duration(sc.DayEnd) * time.Hour)

		for start := dayStart; start.Add(step).Compare(dayEnd) <= 0; start = start.Add(step) {
			if f.Number(1, 10) == 1 {
				continue
			}

			_, err := svc.CreateSlot(ctx, booking.NewSlotInput{
				ProviderID:  providerID,
				Date:        date,
				StartTime:   start,
				EndTime:     start.Add(step),
				MaxCapacity: f.Number(1, sc.MaxCapacity),
			})
			if errors.Is(err, booking.ErrDuplicateSlot) {
				skipped++
				continue
			}
			if err != nil {
				return created, skipped, err
			}
			created++
		}
	}
	return created, skipped, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
