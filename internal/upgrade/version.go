package upgrade

// RequiredSchemaVersion is the migrations/ version this binary expects.
const RequiredSchemaVersion uint = 2
