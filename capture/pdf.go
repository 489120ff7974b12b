package capture

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// assemblePDF lays each page image across a full portrait page of size.
// Page images already carry the page aspect, so "full" fills the page
// width exactly.
func assemblePDF(pages []io.Reader, size PageSize) ([]byte, error) {
	imp, err := api.Import(fmt.Sprintf("form:%s, pos:full", size.Name), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("pdf import options: %w", err)
	}
	conf := model.NewDefaultConfiguration()

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, pages, imp, conf); err != nil {
		return nil, fmt.Errorf("pdf assemble: %w", err)
	}
	return out.Bytes(), nil
}
