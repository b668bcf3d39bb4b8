package domain

import (
	"strings"

	dErrors "consular/pkg/domain-errors"
	strutil "consular/pkg/platform/strings"
)

// DocumentType names the kind of file a citizen uploads and a consular
// service requires.
type DocumentType string

const (
	DocPassport            DocumentType = "PASSPORT"
	DocIdentityCard        DocumentType = "IDENTITY_CARD"
	DocBirthCertificate    DocumentType = "BIRTH_CERTIFICATE"
	DocMarriageCertificate DocumentType = "MARRIAGE_CERTIFICATE"
	DocPhoto               DocumentType = "PHOTO"
	DocProofOfAddress      DocumentType = "PROOF_OF_ADDRESS"
	DocResidencePermit     DocumentType = "RESIDENCE_PERMIT"
	DocOther               DocumentType = "OTHER"
)

var documentTypes = map[DocumentType]struct{}{
	DocPassport: {}, DocIdentityCard: {}, DocBirthCertificate: {}, DocMarriageCertificate: {},
	DocPhoto: {}, DocProofOfAddress: {}, DocResidencePermit: {}, DocOther: {},
}

func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := documentTypes[t]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document type: "+s)
	}
	return t, nil
}

// ParseDocumentTypes parses a list, dropping blanks and duplicates while
// keeping order.
func ParseDocumentTypes(values []string) ([]DocumentType, error) {
	normalized := strutil.DedupeUpper(values)
	out := make([]DocumentType, 0, len(normalized))
	for _, v := range normalized {
		t, err := ParseDocumentType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
