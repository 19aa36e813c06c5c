package server

import (
	"time"

	"github.com/capmatch/capmatch/internal/store"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type matchRequest struct {
	Prompt    string    `json:"prompt,omitempty"`
	Embedding []float32 `json:"query_embedding,omitempty"`
	Threshold float64   `json:"threshold"`
	Limit     int       `json:"limit"`
}

type investorView struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	Website          string                 `json:"website,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Location         string                 `json:"location,omitempty"`
	ContactEmail     string                 `json:"contact_email,omitempty"`
	ContactPhone     string                 `json:"contact_phone,omitempty"`
	ContactName      string                 `json:"contact_name,omitempty"`
	ContactFormURL   string                 `json:"contact_form_url,omitempty"`
	InvestmentStages []string               `json:"investment_stages,omitempty"`
	CheckSize        map[string]interface{} `json:"check_size,omitempty"`
	Industries       []string               `json:"industries,omitempty"`
	Geographies      []string               `json:"geographies,omitempty"`
	InvestmentThesis string                 `json:"investment_thesis,omitempty"`
}

type matchLead struct {
	Investor   investorView `json:"investor"`
	Similarity float64      `json:"similarity"`
}

type matchResponse struct {
	Leads        []matchLead `json:"leads"`
	CreditsSpent int64       `json:"credits_spent"`
	BalanceAfter int64       `json:"balance_after"`
}

type balanceResponse struct {
	UserID          string `json:"user_id"`
	Balance         int64  `json:"balance"`
	LifetimeCredits int64  `json:"lifetime_credits"`
	Tier            string `json:"tier"`
}

type transactionView struct {
	ID              string         `json:"id"`
	Amount          int64          `json:"amount"`
	BalanceAfter    int64          `json:"balance_after"`
	TransactionType string         `json:"transaction_type"`
	FeatureKey      string         `json:"feature_key,omitempty"`
	Description     string         `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type transactionsResponse struct {
	Transactions []transactionView `json:"transactions"`
	Total        int               `json:"total"`
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
}

type packageView struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Credits           int64  `json:"credits"`
	PriceCents        int64  `json:"price_cents"`
	Currency          string `json:"currency"`
	Tier              string `json:"tier"`
	SavingsPercentage *int64 `json:"savings_percentage,omitempty"`
}

type purchaseRequest struct {
	PackageID string `json:"package_id"`
	PaymentID string `json:"payment_id"`
}

type featureCostRequest struct {
	FeatureKey  string `json:"feature_key"`
	CreditsCost int64  `json:"credits_cost"`
	Description string `json:"description,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

type featureCostView struct {
	FeatureKey  string `json:"feature_key"`
	Name        string `json:"name"`
	CreditsCost int64  `json:"credits_cost"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

func toFeatureCostView(fc store.FeatureCost) featureCostView {
	return featureCostView{
		FeatureKey:  fc.FeatureKey,
		Name:        fc.Name,
		CreditsCost: fc.CreditsCost,
		Description: fc.Description,
		IsActive:    fc.IsActive,
	}
}

func toInvestorView(inv store.Investor) investorView {
	return investorView{
		ID:               inv.ID,
		Name:             inv.Name,
		Website:          inv.Website,
		Description:      inv.Description,
		Location:         inv.Location,
		ContactEmail:     inv.ContactEmail,
		ContactPhone:     inv.ContactPhone,
		ContactName:      inv.ContactName,
		ContactFormURL:   inv.ContactFormURL,
		InvestmentStages: inv.InvestmentStages,
		CheckSize:        inv.CheckSize,
		Industries:       inv.Industries,
		Geographies:      inv.Geographies,
		InvestmentThesis: inv.InvestmentThesis,
	}
}

func toTransactionView(t store.TransactionRecord) transactionView {
	return transactionView{
		ID:              t.ID,
		Amount:          t.Amount,
		BalanceAfter:    t.BalanceAfter,
		TransactionType: t.Type,
		FeatureKey:      t.FeatureKey,
		Description:     t.Description,
		Metadata:        t.Metadata,
		CreatedAt:       t.CreatedAt,
	}
}
