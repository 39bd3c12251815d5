package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivyaspire/leadtrack/internal/classify"
	"github.com/ivyaspire/leadtrack/internal/model"
)

var (
	classifyFiller      string
	classifyGrade       string
	classifyFormat      string
	classifyGPA         string
	classifyPercentage  string
	classifyScholarship string
	classifyGeos        []string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a lead from flags and print the routing decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := classify.Fields{
			FormFillerType:         model.FillerType(classifyFiller),
			CurrentGrade:           classifyGrade,
			GradeFormat:            model.GradeFormat(classifyFormat),
			GPAValue:               classifyGPA,
			PercentageValue:        classifyPercentage,
			ScholarshipRequirement: classifyScholarship,
			TargetGeographies:      classifyGeos,
		}

		category := classify.Classify(f)
		fmt.Printf("category:  %s\n", category)
		fmt.Printf("qualified: %t\n", classify.Qualifies(category))
		fmt.Printf("spam:      %t\n", classify.IsSpam(f))

		if f.FormFillerType == model.FillerStudent {
			sim := classify.SimulateStudentAsParent(f)
			fmt.Printf("as-parent: %s (qualified: %t)\n", sim, classify.Qualifies(sim))
		}

		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFiller, "filler", "parent", "form filler type (parent|student)")
	classifyCmd.Flags().StringVar(&classifyGrade, "grade", "", "current grade (7_below|8|9|10|11|12|12_above)")
	classifyCmd.Flags().StringVar(&classifyFormat, "grade-format", "", "grade format (gpa|percentage)")
	classifyCmd.Flags().StringVar(&classifyGPA, "gpa", "", "GPA value")
	classifyCmd.Flags().StringVar(&classifyPercentage, "percentage", "", "percentage value")
	classifyCmd.Flags().StringVar(&classifyScholarship, "scholarship", "", "scholarship requirement (scholarship_optional|partial_scholarship|full_scholarship)")
	classifyCmd.Flags().StringSliceVar(&classifyGeos, "geo", nil, "target geographies (repeatable)")
	rootCmd.AddCommand(classifyCmd)
}
