package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bandscale/bandscale-backend/internal/config"
	"github.com/bandscale/bandscale-backend/internal/database"
	"github.com/bandscale/bandscale-backend/internal/logger"
	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	centerRepo := repository.NewCenterRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)

	fmt.Println("=== Seeding Demo Center + 50 Students ===")

	slug := "jakarta-central"
	var centerID int

	existing, err := centerRepo.GetBySlug(ctx, slug)
	if err != nil {
		if err == pgx.ErrNoRows {
			fmt.Println("Center jakarta-central not found. Creating it...")
			center := &model.Center{
				Name:     "Jakarta Central Test Center",
				Slug:     slug,
				Timezone: "Asia/Jakarta",
				OpensAt:  "08:00",
				ClosesAt: "17:00",
			}
			if err := centerRepo.Create(ctx, center); err != nil {
				log.Fatal().Err(err).Msg("Failed to create center")
			}
			centerID = center.ID
			fmt.Printf("Created center with ID: %d\n", centerID)
		} else {
			log.Fatal().Err(err).Msg("Failed to check existing center")
		}
	} else {
		centerID = existing.ID
		fmt.Printf("Found existing center with ID: %d\n", centerID)
	}

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
		"Hendra Gunawan", "Ika Sari", "Jamal Mirdad", "Kiki Fatmala", "Lukman Hakim",
		"Maya Septiana", "Nanda Pratama", "Oki Setiana", "Putri Dian", "Qori Maharani",
		"Rafi Ahmad", "Siska Saraswati", "Toni Setiawan", "Umi Kalsum", "Vina Panduwinata",
		"Wahyu Hidayat", "Xena Maharani", "Yudi Pratama", "Zaki Anwar", "Alifia Zahra",
		"Bagas Saputra", "Citra Kirana", "Dimas Anggara", "Elisa Novita", "Fikri Maulana",
		"Gali Rakasiwi", "Hani Hanifah", "Iqbal Ramadhan", "Jasmine Azzahra", "Kevin Sanjaya",
		"Larasati Dewi", "Miko Pambudi", "Nia Ramadhani", "Oscar Lawalata", "Puput Melati",
		"Reza Rahadian", "Sari Nila", "Tigor Siahaan", "Utari Maharani", "Vicky Prasetyo",
	}

	// One shared demo password, hashed once.
	hash, err := bcrypt.GenerateFromPassword([]byte("bandscale-demo"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	successCount := 0
	for i, name := range names {
		student := &model.Student{
			Email:        fmt.Sprintf("student%02d@bandscale.test", i+1),
			Name:         name,
			PasswordHash: string(hash),
			CenterID:     centerID,
		}

		if err := studentRepo.Create(ctx, student); err != nil {
			fmt.Printf("Error creating student %s (%s): %v\n", student.Name, student.Email, err)
		} else {
			successCount++
			if (i+1)%10 == 0 {
				fmt.Printf("Created %d students...\n", i+1)
			}
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, len(names))
}
