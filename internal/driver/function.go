package driver

// Function is a logical remote-function identifier. The RPC backend calls
// the function by its wire name; the SQL dialects implement each one with
// a parameterized statement. Using an enum instead of raw string lookups
// keeps the dialect dispatch tables exhaustive at compile time.
type Function int

const (
	FnListArticles Function = iota
	FnGetArticle
	FnInsertArticle
	FnUpdateArticle
	FnDeleteArticle
	FnListClients
	FnInsertClient
	FnUpdateClient
	FnDeleteClient
	FnListSuppliers
	FnListDeliveryNotes
	FnGetDeliveryNote
	FnInsertDeliveryNoteLine
	FnDeleteDeliveryNoteLines
	FnListInvoices
	FnGetInvoice
	FnListProformas
	FnGetProforma
	FnNextDeliveryNoteNumber
	FnNextInvoiceNumber
	FnNextProformaNumber
)

// Standard parameter names shared by all backends.
const (
	ParamTenant      = "p_tenant"
	ParamArticleNo   = "p_narticle"
	ParamClientNo    = "p_nclient"
	ParamSupplierNo  = "p_nfournisseur"
	ParamDocumentNo  = "p_nfact"
	ParamDesignation = "p_designation"
	ParamPrice       = "p_prix"
	ParamQuantity    = "p_quantite"
	ParamName        = "p_nom"
	ParamAddress     = "p_adresse"
)

// wireNames maps each function to the remote name declared on the RPC
// backend. The SQL dialects must keep their dispatch tables in lock-step
// with this set.
var wireNames = map[Function]string{
	FnListArticles:            "get_articles_by_tenant",
	FnGetArticle:              "get_article_by_id_from_tenant",
	FnInsertArticle:           "insert_article_to_tenant",
	FnUpdateArticle:           "update_article_in_tenant",
	FnDeleteArticle:           "delete_article_from_tenant",
	FnListClients:             "get_clients_by_tenant",
	FnInsertClient:            "insert_client_to_tenant",
	FnUpdateClient:            "update_client_in_tenant",
	FnDeleteClient:            "delete_client_from_tenant",
	FnListSuppliers:           "get_suppliers_by_tenant",
	FnListDeliveryNotes:       "get_bl_list_by_tenant",
	FnGetDeliveryNote:         "get_bl_by_id_from_tenant",
	FnInsertDeliveryNoteLine:  "insert_bl_detail",
	FnDeleteDeliveryNoteLines: "delete_bl_details",
	FnListInvoices:            "get_fact_list_by_tenant",
	FnGetInvoice:              "get_fact_by_id_from_tenant",
	FnListProformas:           "get_proforma_list_by_tenant",
	FnGetProforma:             "get_proforma_by_id_from_tenant",
	FnNextDeliveryNoteNumber:  "get_next_bl_number_by_tenant",
	FnNextInvoiceNumber:       "get_next_fact_number_by_tenant",
	FnNextProformaNumber:      "get_next_proforma_number_by_tenant",
}

// aliases are alternative wire names accumulated over the life of the
// application; inbound calls may still use any of them.
var aliases = map[string]Function{
	"list_articles":              FnListArticles,
	"get_fournisseurs_by_tenant": FnListSuppliers,
	"get_bl_list":                FnListDeliveryNotes,
	"get_bl_by_id":               FnGetDeliveryNote,
	"get_fact_list":              FnListInvoices,
	"get_fact_by_id":             FnGetInvoice,
	"get_proforma_list":          FnListProformas,
	"get_proforma_by_id":         FnGetProforma,
	"get_next_bl_number":         FnNextDeliveryNoteNumber,
	"get_next_fact_number":       FnNextInvoiceNumber,
}

var byWireName = func() map[string]Function {
	m := make(map[string]Function, len(wireNames)+len(aliases))
	for fn, name := range wireNames {
		m[name] = fn
	}
	for name, fn := range aliases {
		m[name] = fn
	}
	return m
}()

// ParseFunction resolves an inbound function name, including historical
// aliases, to its logical identifier.
func ParseFunction(name string) (Function, bool) {
	fn, ok := byWireName[name]
	return fn, ok
}

// WireName returns the name the RPC backend declares for this function.
func (f Function) WireName() string {
	return wireNames[f]
}

// String returns the wire name for logging.
func (f Function) String() string {
	if name, ok := wireNames[f]; ok {
		return name
	}
	return "unknown_function"
}
