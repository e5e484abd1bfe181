package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flow"
)

// GetProject fetches a project by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetProject(ctx context.Context, projectID string) (*flow.Project, error) {
	var p flow.Project
	err := s.db.QueryRow(ctx,
		`SELECT id, name, owner_id, client_name, contact_email FROM projects WHERE id = $1`, projectID,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.ClientName, &p.ContactEmail)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get project: %w", err)
	}
	return &p, nil
}

// ListQuotes returns the project's quotes with their lines, most recent first.
func (s *PGStore) ListQuotes(ctx context.Context, projectID string) ([]flow.Quote, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, status, created_by, created_at FROM quotes
		 WHERE project_id = $1 ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("flow: list quotes: %w", err)
	}
	defer rows.Close()

	quotes := []flow.Quote{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			q      flow.Quote
			status string
		)
		if err := rows.Scan(&q.ID, &q.ProjectID, &status, &q.CreatedBy, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("flow: scan quote: %w", err)
		}
		q.Status = flow.QuoteStatus(status)
		index[q.ID] = len(quotes)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows quotes: %w", err)
	}
	if len(quotes) == 0 {
		return quotes, nil
	}

	lines, err := s.db.Query(ctx,
		`SELECT l.quote_id, l.article_id, l.quantity, l.description
		 FROM quote_lines l JOIN quotes q ON q.id = l.quote_id
		 WHERE q.project_id = $1 ORDER BY l.quote_id, l.position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("flow: list quote lines: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var (
			quoteID string
			l       flow.QuoteLine
		)
		if err := lines.Scan(&quoteID, &l.ArticleID, &l.Quantity, &l.Description); err != nil {
			return nil, fmt.Errorf("flow: scan quote line: %w", err)
		}
		if i, ok := index[quoteID]; ok {
			quotes[i].Lines = append(quotes[i].Lines, l)
		}
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows quote lines: %w", err)
	}

	return quotes, nil
}

// GetQuote fetches a quote with its lines.
// Returns nil, nil if not found.
func (s *PGStore) GetQuote(ctx context.Context, quoteID string) (*flow.Quote, error) {
	var (
		q      flow.Quote
		status string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, status, created_by, created_at FROM quotes WHERE id = $1`, quoteID,
	).Scan(&q.ID, &q.ProjectID, &status, &q.CreatedBy, &q.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get quote: %w", err)
	}
	q.Status = flow.QuoteStatus(status)

	rows, err := s.db.Query(ctx,
		`SELECT article_id, quantity, description FROM quote_lines WHERE quote_id = $1 ORDER BY position`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("flow: get quote lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l flow.QuoteLine
		if err := rows.Scan(&l.ArticleID, &l.Quantity, &l.Description); err != nil {
			return nil, fmt.Errorf("flow: scan quote line: %w", err)
		}
		q.Lines = append(q.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows quote lines: %w", err)
	}

	return &q, nil
}

// ListInvoices returns the project's invoices with their lines, most recent first.
func (s *PGStore) ListInvoices(ctx context.Context, projectID string) ([]flow.Invoice, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, status, created_at FROM invoices
		 WHERE project_id = $1 ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("flow: list invoices: %w", err)
	}
	defer rows.Close()

	invoices := []flow.Invoice{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			inv    flow.Invoice
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("flow: scan invoice: %w", err)
		}
		inv.Status = flow.InvoiceStatus(status)
		index[inv.ID] = len(invoices)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows invoices: %w", err)
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	lines, err := s.db.Query(ctx,
		`SELECT l.invoice_id, l.description, l.quantity, l.unit_price
		 FROM invoice_lines l JOIN invoices i ON i.id = l.invoice_id
		 WHERE i.project_id = $1 ORDER BY l.invoice_id, l.position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("flow: list invoice lines: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var (
			invoiceID string
			l         flow.InvoiceLine
		)
		if err := lines.Scan(&invoiceID, &l.Description, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("flow: scan invoice line: %w", err)
		}
		if i, ok := index[invoiceID]; ok {
			invoices[i].Lines = append(invoices[i].Lines, l)
		}
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows invoice lines: %w", err)
	}

	return invoices, nil
}

// GetArticles returns the articles found among ids, keyed by id.
func (s *PGStore) GetArticles(ctx context.Context, ids []string) (map[string]flow.Article, error) {
	out := make(map[string]flow.Article, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, name, stock, unit FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("flow: get articles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a flow.Article
		if err := rows.Scan(&a.ID, &a.Name, &a.Stock, &a.Unit); err != nil {
			return nil, fmt.Errorf("flow: scan article: %w", err)
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows articles: %w", err)
	}

	return out, nil
}

// PutProject inserts or replaces a project.
func (s *PGStore) PutProject(ctx context.Context, p *flow.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, name, owner_id, client_name, contact_email) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id,
		 client_name = EXCLUDED.client_name, contact_email = EXCLUDED.contact_email`,
		p.ID, p.Name, p.OwnerID, p.ClientName, p.ContactEmail)
	if err != nil {
		return fmt.Errorf("flow: put project: %w", err)
	}
	return nil
}

// PutQuote inserts or replaces a quote and its lines in one transaction.
func (s *PGStore) PutQuote(ctx context.Context, q *flow.Quote) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO quotes (id, project_id, status, created_by, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET project_id = EXCLUDED.project_id, status = EXCLUDED.status,
		 created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at`,
		q.ID, q.ProjectID, string(q.Status), q.CreatedBy, q.CreatedAt,
	); err != nil {
		return fmt.Errorf("flow: put quote: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id = $1`, q.ID); err != nil {
		return fmt.Errorf("flow: delete quote lines: %w", err)
	}
	for i, l := range q.Lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO quote_lines (quote_id, position, article_id, quantity, description) VALUES ($1, $2, $3, $4, $5)`,
			q.ID, i, l.ArticleID, l.Quantity, l.Description,
		); err != nil {
			return fmt.Errorf("flow: insert quote line: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PutInvoice inserts or replaces an invoice and its lines in one transaction.
func (s *PGStore) PutInvoice(ctx context.Context, inv *flow.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO invoices (id, project_id, status, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET project_id = EXCLUDED.project_id, status = EXCLUDED.status,
		 created_at = EXCLUDED.created_at`,
		inv.ID, inv.ProjectID, string(inv.Status), inv.CreatedAt,
	); err != nil {
		return fmt.Errorf("flow: put invoice: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, inv.ID); err != nil {
		return fmt.Errorf("flow: delete invoice lines: %w", err)
	}
	for i, l := range inv.Lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO invoice_lines (invoice_id, position, description, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)`,
			inv.ID, i, l.Description, l.Quantity, l.UnitPrice,
		); err != nil {
			return fmt.Errorf("flow: insert invoice line: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PutArticle inserts or replaces an article.
func (s *PGStore) PutArticle(ctx context.Context, a *flow.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO articles (id, name, stock, unit) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, stock = EXCLUDED.stock, unit = EXCLUDED.unit`,
		a.ID, a.Name, a.Stock, a.Unit)
	if err != nil {
		return fmt.Errorf("flow: put article: %w", err)
	}
	return nil
}
