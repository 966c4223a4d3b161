package mocks

import (
	"errors"

	"github.com/stokaro/behave/core/ast"
)

var _ ast.Visitor = (*MockVisitor)(nil)

// MockVisitor records the visited nodes
type MockVisitor struct {
	VisitedNodes []string
	ReturnError  bool
}

func (m *MockVisitor) visit(node string) error {
	m.VisitedNodes = append(m.VisitedNodes, node)
	if m.ReturnError {
		return errors.New("mock error")
	}
	return nil
}

func (m *MockVisitor) VisitCreateTable(node *ast.CreateTableNode) error {
	return m.visit("CreateTable:" + node.Name)
}

func (m *MockVisitor) VisitColumn(node *ast.ColumnNode) error {
	return m.visit("Column:" + node.Name)
}

func (m *MockVisitor) VisitConstraint(node *ast.ConstraintNode) error {
	return m.visit("Constraint:" + node.Name)
}

func (m *MockVisitor) VisitIndex(node *ast.IndexNode) error {
	return m.visit("Index:" + node.Name)
}

func (m *MockVisitor) VisitDropTable(node *ast.DropTableNode) error {
	return m.visit("DropTable:" + node.Name)
}
