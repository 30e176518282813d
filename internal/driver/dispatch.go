package driver

import (
	"fmt"

	"github.com/gestock/dbgate/internal/tenant"
)

// BuildFunctionSQL renders the statement a SQL backend runs to emulate a
// remote function. One switch covers every declared Function; a new
// function without a branch here falls through to UnsupportedOpError, and
// TestDispatchCoversAllFunctions pins the table to the function set.
//
// Values always travel as bind parameters. The only identifiers spliced
// into the text are the tenant schema (validated by the tenant package)
// and fixed table names.
func BuildFunctionSQL(d Dialect, fn Function, id tenant.ID, params Params) (string, []any, error) {
	b := &stmtBuilder{d: d, id: id, params: params}

	switch fn {
	case FnListArticles:
		b.printf("SELECT * FROM %s ORDER BY narticle", b.table("article"))
	case FnGetArticle:
		b.printf("SELECT * FROM %s WHERE narticle = %s", b.table("article"), b.bind(ParamArticleNo))
	case FnInsertArticle:
		b.printf("INSERT INTO %s (narticle, designation, prix, quantite) VALUES (%s, %s, %s, %s)",
			b.table("article"), b.bind(ParamArticleNo), b.bind(ParamDesignation),
			b.bind(ParamPrice), b.bind(ParamQuantity))
	case FnUpdateArticle:
		b.printf("UPDATE %s SET designation = %s, prix = %s, quantite = %s WHERE narticle = %s",
			b.table("article"), b.bind(ParamDesignation), b.bind(ParamPrice),
			b.bind(ParamQuantity), b.bind(ParamArticleNo))
	case FnDeleteArticle:
		b.printf("DELETE FROM %s WHERE narticle = %s", b.table("article"), b.bind(ParamArticleNo))

	case FnListClients:
		b.printf("SELECT * FROM %s ORDER BY nclient", b.table("client"))
	case FnInsertClient:
		b.printf("INSERT INTO %s (nclient, nom, adresse) VALUES (%s, %s, %s)",
			b.table("client"), b.bind(ParamClientNo), b.bind(ParamName), b.bind(ParamAddress))
	case FnUpdateClient:
		b.printf("UPDATE %s SET nom = %s, adresse = %s WHERE nclient = %s",
			b.table("client"), b.bind(ParamName), b.bind(ParamAddress), b.bind(ParamClientNo))
	case FnDeleteClient:
		b.printf("DELETE FROM %s WHERE nclient = %s", b.table("client"), b.bind(ParamClientNo))

	case FnListSuppliers:
		b.printf("SELECT * FROM %s ORDER BY nfournisseur", b.table("fournisseur"))

	case FnListDeliveryNotes:
		b.printf("SELECT b.*, c.nom AS client_name FROM %s b LEFT JOIN %s c ON c.nclient = b.nclient ORDER BY b.nfact DESC",
			b.table("bl"), b.table("client"))
	case FnGetDeliveryNote:
		b.printf("SELECT * FROM %s WHERE nfact = %s", b.table("bl"), b.bind(ParamDocumentNo))
	case FnInsertDeliveryNoteLine:
		b.printf("INSERT INTO %s (nfact, narticle, quantite, prix) VALUES (%s, %s, %s, %s)",
			b.table("bl_detail"), b.bind(ParamDocumentNo), b.bind(ParamArticleNo),
			b.bind(ParamQuantity), b.bind(ParamPrice))
	case FnDeleteDeliveryNoteLines:
		b.printf("DELETE FROM %s WHERE nfact = %s", b.table("bl_detail"), b.bind(ParamDocumentNo))

	case FnListInvoices:
		b.printf("SELECT f.*, c.nom AS client_name FROM %s f LEFT JOIN %s c ON c.nclient = f.nclient ORDER BY f.nfact DESC",
			b.table("facture"), b.table("client"))
	case FnGetInvoice:
		b.printf("SELECT * FROM %s WHERE nfact = %s", b.table("facture"), b.bind(ParamDocumentNo))

	case FnListProformas:
		b.printf("SELECT p.*, c.nom AS client_name FROM %s p LEFT JOIN %s c ON c.nclient = p.nclient ORDER BY p.nfact DESC",
			b.table("fprof"), b.table("client"))
	case FnGetProforma:
		b.printf("SELECT * FROM %s WHERE nfact = %s", b.table("fprof"), b.bind(ParamDocumentNo))

	case FnNextDeliveryNoteNumber:
		b.printf("SELECT COALESCE(MAX(nfact), 0) + 1 AS next_number FROM %s", b.table("bl"))
	case FnNextInvoiceNumber:
		b.printf("SELECT COALESCE(MAX(nfact), 0) + 1 AS next_number FROM %s", b.table("facture"))
	case FnNextProformaNumber:
		b.printf("SELECT COALESCE(MAX(nfact), 0) + 1 AS next_number FROM %s", b.table("fprof"))

	default:
		return "", nil, &UnsupportedOpError{Function: fn.String(), Kind: d.Kind()}
	}

	if b.err != nil {
		return "", nil, b.err
	}
	return b.sql, b.args, nil
}

// stmtBuilder accumulates one statement. Missing parameters and bad table
// names are collected into err instead of panicking mid-build.
type stmtBuilder struct {
	d      Dialect
	id     tenant.ID
	params Params
	sql    string
	args   []any
	err    error
}

func (b *stmtBuilder) printf(format string, a ...any) {
	b.sql = fmt.Sprintf(format, a...)
}

func (b *stmtBuilder) table(name string) string {
	q, err := QualifyTable(b.d, b.id, name)
	if err != nil && b.err == nil {
		b.err = err
	}
	return q
}

func (b *stmtBuilder) bind(key string) string {
	v, ok := b.params[key]
	if !ok && b.err == nil {
		b.err = fmt.Errorf("missing parameter %q", key)
	}
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}
