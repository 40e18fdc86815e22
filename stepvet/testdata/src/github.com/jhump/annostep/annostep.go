package annostep

type Step struct {
	Name          string
	Description   string
	Category      Category
	SecurityLevel SecurityLevel
}

type Category int

const (
	CategoryGeneral Category = iota
	CategorySCM
	CategoryBuild
	CategoryTest
	CategoryDeploy
	CategorySecurity
	CategoryUtil
	CategoryNotification
)

type SecurityLevel int

const (
	Restricted SecurityLevel = iota
	Trusted
	Isolated
)
