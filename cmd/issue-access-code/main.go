package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Unambiguous characters only: no 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	exams := repository.NewExamRepository(pool)
	participants := repository.NewParticipantRepository(pool)
	authService := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Exam Access Code ===")

	fmt.Print("Enter Exam ID: ")
	examIDStr, _ := reader.ReadString('\n')
	examID, err := uuid.Parse(strings.TrimSpace(examIDStr))
	if err != nil {
		fmt.Println("Error: Exam ID must be a UUID")
		return
	}

	exam, err := exams.FindByID(ctx, examID)
	if err != nil {
		fmt.Println("Error: Exam not found")
		return
	}

	fmt.Print("Enter User ID: ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	fmt.Print("Enter Email (optional): ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)

	// Hidden so codes do not end up in terminal scrollback.
	fmt.Print("Enter Access Code (empty to generate): ")
	byteCode, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading access code")
		return
	}
	code := model.NormalizeAccessCode(string(byteCode))
	if code == "" {
		code = generateCode(10)
	}
	if len(code) < 4 {
		fmt.Println("Error: Access code must be at least 4 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	p := &model.Participant{
		ExamID:     exam.ID,
		UserID:     userID,
		Email:      email,
		AccessCode: code,
	}
	if err := participants.Create(ctx, p); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			fmt.Println("Error: This access code is already in use")
			return
		}
		log.Fatal().Err(err).Msg("Failed to create participant")
	}

	token, err := authService.GenerateToken(userID, service.RoleParticipant, email)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign participant token")
	}

	fmt.Printf("\nSuccess! Participant %s registered for '%s'\n", p.ID, exam.Title)
	fmt.Printf("Access code: %s\n", code)
	fmt.Printf("Token:       %s\n", token)
}

func generateCode(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
