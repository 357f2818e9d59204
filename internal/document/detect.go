package document

import (
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// DetectPDF checks magic bytes rather than the file name.
func DetectPDF(data []byte) error {
	if len(data) == 0 {
		return ErrNotPDF
	}
	mtype := mimetype.Detect(data)
	if !mtype.Is(MIMEType) {
		log.Debug().Str("mime", mtype.String()).Msg("upload rejected: not a PDF")
		return ErrNotPDF
	}
	return nil
}
