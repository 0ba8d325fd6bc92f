package http

import (
	"crypto/subtle"

	"cv-optimizer/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FreePassStats lists free-pass claims as JSON, or as a spreadsheet with
// ?format=xlsx.
func (h *Handler) FreePassStats(c *fiber.Ctx) error {
	key := c.Get("X-Admin-Key")
	if h.opts.AdminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.AdminAPIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	claims, err := h.freePasses.List(c.UserContext())
	if err != nil {
		return h.writeError(c, err)
	}

	if c.Query("format") != "xlsx" {
		return c.JSON(fiber.Map{"total": len(claims), "claims": claims})
	}
	body, err := freePassSheet(claims)
	if err != nil {
		return h.writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="free-pass-claims.xlsx"`)
	return c.Send(body)
}

func freePassSheet(claims []domain.FreePassClaim) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Claims"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Email", "First Name", "Last Name", "Job ID", "Claimed At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, cl := range claims {
		row := []any{cl.Email, cl.FirstName, cl.LastName, cl.JobID, cl.ClaimedAt.UTC().Format("2006-01-02 15:04:05")}
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
