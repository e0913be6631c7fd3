package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/booking/internal/db"
	"github.com/clinicdesk/booking/internal/slot"
)

const (
	clinicCount      = 5
	doctorsPerClinic = 8
	scheduleDays     = 14
	slotMinutes      = 30
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	total := 0
	for c := 0; c < clinicCount; c++ {
		clinicID := uuid.New()
		for d := 0; d < doctorsPerClinic; d++ {
			n, err := seedDoctorSchedule(context.Background(), pool, clinicID)
			if err != nil {
				log.Fatalf("seed schedule: %v", err)
			}
			total += n
		}
		log.Printf("clinic %s seeded", clinicID)
	}

	log.Printf("seed complete: %d slots", total)
}

// seedDoctorSchedule inserts a two week grid of slots for one doctor:
// weekdays 09:00 to 17:00 carved into fixed length windows, with a randomly
// drawn payment mode and price per doctor.
func seedDoctorSchedule(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID) (int, error) {
	doctorID := uuid.New()

	modes := []slot.PaymentMode{slot.PaymentModeFree, slot.PaymentModeOnline, slot.PaymentModeOffline}
	mode := modes[gofakeit.Number(0, len(modes)-1)]

	var price int64
	if mode != slot.PaymentModeFree {
		// 200.00 to 1500.00 in minor units, rounded to whole rupees.
		price = int64(gofakeit.Number(200, 1500)) * 100
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	inserted := 0

	for d := 0; d < scheduleDays; d++ {
		date := day.Add(time.Duration(d) * 24 * time.Hour)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		start := date.Add(9 * time.Hour)
		end := date.Add(17 * time.Hour)

		for t := start; t.Add(slotMinutes * time.Minute).Before(end.Add(time.Minute)); t = t.Add(slotMinutes * time.Minute) {
			_, err := tx.Exec(ctx, `
				INSERT INTO slots (id, clinic_id, doctor_id, start_time, end_time, price, payment_mode, kind, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			`, uuid.New(), clinicID, doctorID, t, t.Add(slotMinutes*time.Minute), price, mode, slot.KindAppointment, slot.StatusOpen)
			if err != nil {
				return 0, err
			}
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}
