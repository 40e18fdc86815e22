package annostep

import "fmt"

// Step is the annotation that marks a pipeline step. It is placed in the doc
// comment of a package-level function:
//
//    import _ "github.com/jhump/annostep"
//
//    // Echo prints a message to the pipeline log.
//    //
//    // @annostep.Step{Description: "prints a message", Category: annostep.CategoryUtil}
//    func Echo(message string) {
//        ...
//    }
//
// Running the annotation processor on the package rewrites the function to
// take the pipeline context as its first parameter and generates a Steps type
// whose methods call each step from inside a pipeline's steps block, supplying
// the context implicitly.
//
// All fields are optional. String fields must be literals and enum fields must
// name one of the constants below; any other expression leaves the field at its
// default.
type Step struct {
	// Name is the display name of the step. Defaults to the function's name.
	Name string

	// Description is free text shown in step catalogs. Descriptions longer
	// than 200 characters are reported with a warning.
	Description string

	// Category groups related steps. Defaults to CategoryGeneral.
	Category Category

	// SecurityLevel is the trust tier of the step. Defaults to Restricted.
	SecurityLevel SecurityLevel
}

// MaxDescriptionLength is the soft limit for Step.Description.
const MaxDescriptionLength = 200

// Category is an enumeration of the kinds of pipeline steps.
type Category int

const (
	// CategoryGeneral is the default category.
	CategoryGeneral Category = iota
	// CategorySCM steps talk to source control.
	CategorySCM
	// CategoryBuild steps compile or package code.
	CategoryBuild
	// CategoryTest steps run tests.
	CategoryTest
	// CategoryDeploy steps release artifacts.
	CategoryDeploy
	// CategorySecurity steps scan or sign.
	CategorySecurity
	// CategoryUtil steps are small helpers.
	CategoryUtil
	// CategoryNotification steps send messages.
	CategoryNotification
)

// NumCategories is the number of defined categories.
const NumCategories = int(CategoryNotification) + 1

func (c Category) String() string {
	switch c {
	case CategoryGeneral:
		return "GENERAL"
	case CategorySCM:
		return "SCM"
	case CategoryBuild:
		return "BUILD"
	case CategoryTest:
		return "TEST"
	case CategoryDeploy:
		return "DEPLOY"
	case CategorySecurity:
		return "SECURITY"
	case CategoryUtil:
		return "UTIL"
	case CategoryNotification:
		return "NOTIFICATION"
	default:
		return fmt.Sprintf("?%d?", int(c))
	}
}

// SecurityLevel is a coarse, static trust classification. It only drives
// compile-time checks; it is not a sandbox.
type SecurityLevel int

const (
	// Restricted is the default level. Restricted steps may not call Trusted
	// steps.
	Restricted SecurityLevel = iota
	// Trusted steps may perform privileged operations.
	Trusted
	// Isolated steps are expected to run without side effects outside their
	// workspace.
	Isolated
)

// NumSecurityLevels is the number of defined security levels.
const NumSecurityLevels = int(Isolated) + 1

func (l SecurityLevel) String() string {
	switch l {
	case Restricted:
		return "RESTRICTED"
	case Trusted:
		return "TRUSTED"
	case Isolated:
		return "ISOLATED"
	default:
		return fmt.Sprintf("?%d?", int(l))
	}
}
